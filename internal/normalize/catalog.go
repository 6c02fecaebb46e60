package normalize

import "strings"

// program describes how leading positionals of a known tool are lifted
// into subcommands.
type program struct {
	depth       int
	subcommands map[string]bool
	// global options that take a value and may precede the subcommand
	globalValueFlags map[string]bool
}

func set(words string) map[string]bool {
	m := make(map[string]bool)
	for _, w := range strings.Fields(words) {
		m[w] = true
	}
	return m
}

var catalog = map[string]program{
	"git": {
		depth: 2,
		subcommands: set(`add am archive bisect blame branch bundle checkout cherry cherry-pick
			citool clean clone commit config describe diff difftool fetch format-patch gc grep
			gui help init log ls-files ls-remote merge mergetool mv notes pull push rebase reflog
			remote reset restore rev-parse revert rm shortlog show show-ref stash status submodule
			switch tag worktree set-url get-url update-ref apply drop list pop save clear prune
			update set-head rename remove`),
		globalValueFlags: set(`-C -c --git-dir --work-tree --namespace`),
	},
	"docker": {
		depth: 2,
		subcommands: set(`build builder buildx compose container context image network node
			plugin run secret service stack swarm system trust volume attach commit cp create diff
			events exec export history images import info inspect kill load login logout logs ls
			pause port ps prune pull push rename restart rm rmi save search start stats stop tag top
			unpause update version wait up down config scale`),
		globalValueFlags: set(`-H --host --context -c --config -l --log-level`),
	},
	"kubectl": {
		depth: 2,
		subcommands: set(`alpha annotate api-resources api-versions apply attach auth autoscale
			certificate cluster-info completion config cordon cp create debug delete describe diff
			drain edit exec explain expose get kustomize label logs options patch plugin
			port-forward proxy replace rollout run scale set taint top uncordon version wait view
			get-contexts current-context get-clusters get-users set-context set-cluster
			set-credentials use-context delete-context delete-cluster delete-user rename-context
			can-i whoami status history restart undo pause resume`),
		globalValueFlags: set(`-n --namespace --context --cluster --kubeconfig --user -s --server`),
	},
	"terraform": {
		depth: 2,
		subcommands: set(`apply console destroy fmt force-unlock get graph import init login
			logout metadata output plan providers refresh show state taint test untaint validate
			version workspace list mv pull push replace-provider rm delete new select lock mirror
			schema`),
		globalValueFlags: set(`-chdir`),
	},
	"cargo": {
		depth: 1,
		subcommands: set(`add bench build check clean clippy doc fetch fix fmt generate-lockfile
			init install locate-project login logout metadata new owner package pkgid publish
			read-manifest remove report run rustc rustdoc search test tree uninstall update vendor
			verify-project version yank`),
	},
	"npm": {
		depth: 1,
		subcommands: set(`access adduser audit bugs cache ci completion config dedupe deprecate
			diff dist-tag docs doctor edit exec explain explore fund help init install
			install-ci-test install-test link login logout ls outdated owner pack ping pkg prefix
			profile prune publish query rebuild repo restart root run run-script search
			shrinkwrap star stars start stop team test token uninstall unpublish unstar update
			version view whoami i add rm un up t`),
	},
	"go": {
		depth: 2,
		subcommands: set(`bug build clean doc env fix fmt generate get install list mod work run
			test tool version vet download edit graph init tidy vendor verify why sync use`),
	},
	"az": {
		depth: 4,
		subcommands: set(`account acr ad advisor aks apim appconfig appservice backup batch bicep
			billing cdn cloud cognitiveservices config configure consumption container cosmosdb
			deployment disk eventgrid eventhubs extension feature functionapp group hdinsight
			identity image iot keyvault lab lock login logout logic managed-cassandra managedapp
			maps mariadb ml monitor mysql netappfiles network policy postgres ppg provider redis
			relay reservations resource role search security servicebus sf sig signalr snapshot sql
			ssh sshkey staticwebapp storage synapse tag term ts version vm vmss webapp server db
			database blob queue table file share vnet subnet nsg nic lb public-ip private-endpoint
			application-gateway firewall dns front-door traffic-manager express-route vpn-gateway
			nat bastion user sp app secret key certificate nodepool assignment definition
			repository rule member workspace activity-log log-analytics metrics
			diagnostic-settings action-group alert autoscale appsettings connection-string
			deployment-slot keys credential list show create delete update set get add remove start
			stop restart scale upgrade resize exists regenerate reset upload download copy move
			import export backup restore build query invoke wait tail list-defaults
			get-credentials get-versions get-access-token show-connection-string list-locations
			list-ip-addresses list-sizes list-skus list-usage get-instance-view show-tags`),
	},
}

// splitArgs separates subcommands, flags and positionals. Leading words
// that name known subcommands are lifted until the first flag or unknown
// word, up to the program's depth. Global options that take a value may
// precede the subcommands.
func splitArgs(prog string, args []string) (subcommands, flags, positionals []string) {
	info, known := catalog[prog]
	inRegion := known
	endOfFlags := false

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case endOfFlags:
			positionals = append(positionals, arg)
		case arg == "--":
			endOfFlags = true
			inRegion = false
		case strings.HasPrefix(arg, "-") && arg != "-":
			flags = append(flags, parseFlag(arg)...)
			name, _, hasValue := strings.Cut(arg, "=")
			if inRegion && len(subcommands) == 0 && info.globalValueFlags[name] {
				if !hasValue && i+1 < len(args) {
					i++
					positionals = append(positionals, args[i])
				}
				continue
			}
			inRegion = false
		case inRegion && len(subcommands) < info.depth && info.subcommands[arg]:
			subcommands = append(subcommands, arg)
		default:
			inRegion = false
			positionals = append(positionals, arg)
		}
	}
	return subcommands, flags, positionals
}

// parseFlag splits a flag word into individual flags.
func parseFlag(word string) []string {
	if strings.HasPrefix(word, "--") {
		name, _, _ := strings.Cut(word, "=")
		return []string{name}
	}
	var out []string
	for _, c := range word[1:] {
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' {
			out = append(out, "-"+string(c))
			continue
		}
		// -n=5 style values end the cluster
		break
	}
	if len(out) == 0 {
		return []string{word}
	}
	return out
}
