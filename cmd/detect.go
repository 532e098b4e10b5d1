package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/moduhost/workerd/internal/config"
	"github.com/moduhost/workerd/internal/detector"
	"github.com/moduhost/workerd/internal/logging"
	"github.com/moduhost/workerd/internal/phpsrc"
)

// CreateDetectCmd creates the detect command, a one-shot classification pass
// over the module roster. Useful for CI checks that want to know what a
// deploy would cost before pushing it: config-only changes hot-swap, named
// class changes force a drain and restart.
func CreateDetectCmd() *cobra.Command {
	var rosterFile string
	var logJSON bool

	cmd := &cobra.Command{
		Use:   "detect [module-code]",
		Short: "Classify module source trees",
		Long: `Walks each enabled module from the roster and reports the heaviest change ` +
			`classification a full reload of that module would need. ` +
			`With a module code argument, classifies that single module instead. ` +
			`Exits 2 when any module contains named class declarations.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			loggingConfig := logging.Config{Level: "warn", Format: "text"}
			if logJSON {
				loggingConfig.Format = "json"
			}
			logging.Initialize(loggingConfig)

			roster := config.NewRosterManager(rosterFile)
			if err := roster.Load(); err != nil {
				return fmt.Errorf("failed to load roster: %w", err)
			}

			modules := roster.EnabledModules()
			if len(args) == 1 {
				mod, ok := modules[args[0]]
				if !ok {
					return fmt.Errorf("module %q not in roster", args[0])
				}
				modules = map[string]config.ModuleConfig{args[0]: mod}
			}
			if len(modules) == 0 {
				fmt.Println("No enabled modules in roster")
				return nil
			}

			exitCode := 0
			for code, mod := range modules {
				result := classifyModuleTree(mod.Path)
				fmt.Printf("%-30s %s\n", code, result)
				if result == detector.ChangeClassFile {
					exitCode = 2
				}
			}
			if exitCode != 0 {
				os.Exit(exitCode)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&rosterFile, "roster", "c", "roster.toml", "Module roster file")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "Log in JSON format")
	return cmd
}

// classifyModuleTree reports the heaviest classification a full reload of the
// module would need, by classifying every file as if it had changed.
func classifyModuleTree(root string) detector.ChangeType {
	scanner := detector.FSScanner{}
	hashes, err := scanner.Scan(root)
	if err != nil {
		return detector.ChangeClassFile
	}

	classifier := phpsrc.Classifier{}
	result := detector.ChangeNone
	for rel := range hashes {
		result = detector.MaxChange(result, classifyTreeFile(scanner, root, rel, classifier))
		if result == detector.ChangeClassFile {
			break
		}
	}
	return result
}

func classifyTreeFile(scanner detector.FSScanner, root, rel string, classifier phpsrc.Classifier) detector.ChangeType {
	switch strings.ToLower(filepath.Ext(rel)) {
	case ".php", ".inc", ".phtml":
	default:
		return detector.ChangeConfig
	}

	source, err := scanner.ReadFile(root, rel)
	if err != nil {
		return detector.ChangeClassFile
	}
	return classifier.Classify(source)
}
