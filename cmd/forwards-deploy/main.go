package main

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/kalefi/forwards/bridge/horizonapi"
	"github.com/kalefi/forwards/bridge/stellarrpc"
	"github.com/kalefi/forwards/bridge/txflow"
	"github.com/kalefi/forwards/deployer"
	"github.com/kalefi/forwards/internal/config"
	"github.com/kalefi/forwards/internal/health"
	"github.com/kalefi/forwards/internal/logz"
	"github.com/kalefi/forwards/internal/metrics"
	"github.com/kalefi/forwards/internal/signer"
	"github.com/kalefi/forwards/registry/deployments"
)

var configPath = "config.yaml"

func main() {
	rootCmd := &cobra.Command{
		Use:   "forwards-deploy",
		Short: "Deployment tooling for the forwards market contracts",
		Long:  "Uploads, instantiates and initializes the fKALE token and forwards market contracts, recording addresses in the deployments registry",
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to config file")

	rootCmd.AddCommand(
		deployFKaleCommand(),
		deployForwardsCommand(),
		setAdminCommand(),
		setupCommand(),
		listCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type toolbox struct {
	cfg   *config.Config
	store *deployments.FileStore
	orch  *deployer.Orchestrator
}

func newToolbox(cmd *cobra.Command) (*toolbox, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	level, err := logz.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logz.INFO
	}
	logger := logz.New(level, "forwards-deploy")
	mx := metrics.New(prometheus.NewRegistry())

	rpcClient := stellarrpc.NewClient(cfg.RPCURL,
		stellarrpc.WithLogger(logger),
		stellarrpc.WithMetrics(mx),
	)
	if err := health.NewChecker(rpcClient, logger).Check(cmd.Context()); err != nil {
		return nil, err
	}

	sgn, err := signer.NewFromConfig(&signer.Config{Type: cfg.Signer.Type, Key: cfg.Signer.Key})
	if err != nil {
		return nil, fmt.Errorf("deployment requires a configured signer: %w", err)
	}

	store, err := deployments.Open(cfg.DeploymentsPath)
	if err != nil {
		return nil, err
	}

	var accounts txflow.AccountProvider = rpcClient
	if cfg.HorizonURL != "" {
		accounts = horizonapi.NewClient(cfg.HorizonURL, logger)
	}

	manager := txflow.NewManager(rpcClient, accounts, sgn, cfg.NetworkPassphrase,
		txflow.WithPollPolicy(txflow.PollPolicy{
			Interval:    cfg.GetPollInterval(),
			MaxAttempts: cfg.Poll.MaxAttempts,
		}),
		txflow.WithLogger(logger),
		txflow.WithMetrics(mx),
	)

	orch := deployer.New(manager, store, sgn.Address(), cfg.NetworkPassphrase, cfg.Fee.Invoke, logger)
	return &toolbox{cfg: cfg, store: store, orch: orch}, nil
}

func readWasm(path string) ([]byte, error) {
	wasm, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read wasm file %s: %w", path, err)
	}
	return wasm, nil
}

// contractAddress resolves a contract address from the registry first, then
// the config file.
func (t *toolbox) contractAddress(name, fromConfig string) (string, error) {
	if entry, ok := t.store.Get(name); ok {
		return entry.Address, nil
	}
	if fromConfig != "" {
		return fromConfig, nil
	}
	return "", fmt.Errorf("no %s contract recorded; deploy it first or set it in the config", name)
}

func deployFKaleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "fkale <wasm-file>",
		Short: "Deploy and initialize the fKALE token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := newToolbox(cmd)
			if err != nil {
				return err
			}
			wasm, err := readWasm(args[0])
			if err != nil {
				return err
			}
			entry, err := t.orch.DeployFKaleToken(cmd.Context(), wasm)
			if err != nil {
				return err
			}
			fmt.Printf("fKALE token deployed at %s\n", entry.Address)
			return nil
		},
	}
}

func deployForwardsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "forwards <wasm-file>",
		Short: "Deploy and initialize the forwards market contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := newToolbox(cmd)
			if err != nil {
				return err
			}
			wasm, err := readWasm(args[0])
			if err != nil {
				return err
			}
			fkale, err := t.contractAddress("fkale", t.cfg.Contracts.FKaleToken)
			if err != nil {
				return err
			}
			entry, err := t.orch.DeployForwards(cmd.Context(), wasm,
				t.cfg.Contracts.KaleSac, t.cfg.Contracts.XlmSac, fkale)
			if err != nil {
				return err
			}
			fmt.Printf("Forwards contract deployed at %s\n", entry.Address)
			return nil
		},
	}
}

func setAdminCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set-admin",
		Short: "Hand fKALE token admin to the forwards contract",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := newToolbox(cmd)
			if err != nil {
				return err
			}
			fkale, err := t.contractAddress("fkale", t.cfg.Contracts.FKaleToken)
			if err != nil {
				return err
			}
			forwardsID, err := t.contractAddress("forwards", t.cfg.Contracts.Forwards)
			if err != nil {
				return err
			}
			if err := t.orch.SetFKaleAdmin(cmd.Context(), fkale, forwardsID); err != nil {
				return err
			}
			fmt.Printf("fKALE admin set to %s\n", forwardsID)
			return nil
		},
	}
}

func setupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "setup <fkale-wasm> <forwards-wasm>",
		Short: "Run the complete provisioning sequence",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := newToolbox(cmd)
			if err != nil {
				return err
			}
			fkaleWasm, err := readWasm(args[0])
			if err != nil {
				return err
			}
			forwardsWasm, err := readWasm(args[1])
			if err != nil {
				return err
			}
			if err := t.orch.Setup(cmd.Context(), fkaleWasm, forwardsWasm,
				t.cfg.Contracts.KaleSac, t.cfg.Contracts.XlmSac); err != nil {
				return err
			}
			fmt.Println("Setup complete")
			for _, name := range t.store.Names() {
				entry, _ := t.store.Get(name)
				fmt.Printf("  %s: %s\n", name, entry.Address)
			}
			return nil
		},
	}
}

func listCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recorded deployments",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			store, err := deployments.Open(cfg.DeploymentsPath)
			if err != nil {
				return err
			}
			names := store.Names()
			if len(names) == 0 {
				fmt.Println("No deployments recorded")
				return nil
			}
			for _, name := range names {
				entry, _ := store.Get(name)
				fmt.Printf("%s\t%s\t(deployed %s)\n", name, entry.Address, entry.DeployedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}
