package main

import (
	"context"
	"fmt"
	"math/big"
	"os"

	"github.com/spf13/cobra"

	"github.com/kalefi/forwards/bridge/forwards"
	"github.com/kalefi/forwards/bridge/horizonapi"
	"github.com/kalefi/forwards/bridge/stellarrpc"
	"github.com/kalefi/forwards/bridge/txflow"
	"github.com/kalefi/forwards/internal/config"
	"github.com/kalefi/forwards/internal/health"
	"github.com/kalefi/forwards/internal/logz"
	"github.com/kalefi/forwards/internal/metrics"
	"github.com/kalefi/forwards/internal/signer"
	"github.com/kalefi/forwards/types/stroops"

	"github.com/prometheus/client_golang/prometheus"
)

var configPath = "config.yaml"

func main() {
	rootCmd := &cobra.Command{
		Use:   "forwards-cli",
		Short: "CLI for the KALE forwards market",
		Long:  "Command-line interface for reading and trading on the KALE forwards market contracts",
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to config file")

	rootCmd.AddCommand(
		healthCommand(),
		balancesCommand(),
		positionCommand(),
		contractInfoCommand(),
		canWithdrawCommand(),
		totalKaleCommand(),
		buyCommand(),
		depositCommand(),
		redeemCommand(),
		withdrawCommand(),
		liquidateCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app holds everything a command needs, wired from the config file.
type app struct {
	cfg    *config.Config
	rpc    *stellarrpc.Client
	client *forwards.Client
	logger *logz.Logger
}

func newApp(withSigner bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	level, err := logz.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logz.INFO
	}
	logger := logz.New(level, "forwards-cli")
	mx := metrics.New(prometheus.NewRegistry())

	rpcClient := stellarrpc.NewClient(cfg.RPCURL,
		stellarrpc.WithLogger(logger),
		stellarrpc.WithMetrics(mx),
	)

	var sgn signer.Signer
	if withSigner {
		sgn, err = signer.NewFromConfig(&signer.Config{Type: cfg.Signer.Type, Key: cfg.Signer.Key})
		if err != nil {
			return nil, fmt.Errorf("failed to set up signer: %w", err)
		}
	} else {
		sgn = signer.Func(func(ctx context.Context, envelopeXDR string, opts signer.SignOptions) (string, error) {
			return "", signer.ErrUnavailable
		})
	}

	// Horizon serves account lookups when configured; the RPC endpoint's
	// ledger entries cover networks without one.
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

	reader := forwards.NewReader(rpcClient, cfg.Fee.Read, logger)
	client := forwards.NewClient(manager, reader, rpcClient, forwards.Contracts{
		Forwards:   cfg.Contracts.Forwards,
		FKaleToken: cfg.Contracts.FKaleToken,
		KaleSac:    cfg.Contracts.KaleSac,
		XlmSac:     cfg.Contracts.XlmSac,
	}, cfg.Fee.Invoke, logger)

	return &app{cfg: cfg, rpc: rpcClient, client: client, logger: logger}, nil
}

// signerAddress returns the configured signer's account, or the explicit
// account argument when one was given.
func signerAddress(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return "", err
	}
	sgn, err := signer.NewFromConfig(&signer.Config{Type: cfg.Signer.Type, Key: cfg.Signer.Key})
	if err != nil {
		return "", fmt.Errorf("no account given and no signer configured: %w", err)
	}
	return sgn.Address(), nil
}

func parseAmount(raw string) (*big.Int, error) {
	amount, err := stroops.ToStroopsBig(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	return amount, nil
}

func reportResult(result *txflow.Result) error {
	if result.Success {
		fmt.Printf("Settled in ledger %d\n", result.Ledger)
		fmt.Printf("Hash: %s\n", result.Hash)
		return nil
	}
	if result.Hash != "" {
		fmt.Printf("Hash: %s\n", result.Hash)
	}
	return fmt.Errorf("%s: %v", result.Code, result.Err)
}

func healthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the RPC endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(false)
			if err != nil {
				return err
			}
			if err := health.NewChecker(a.rpc, a.logger).Check(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("RPC endpoint healthy")
			return nil
		},
	}
}

func balancesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "balances <account>",
		Short: "Show KALE, XLM and fKALE balances",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(false)
			if err != nil {
				return err
			}
			balances := a.client.Balances(cmd.Context(), args[0])
			fmt.Printf("KALE:  %s\n", stroops.FromStroopsBig(balances.Kale))
			fmt.Printf("XLM:   %s\n", stroops.FromStroopsBig(balances.Xlm))
			fmt.Printf("fKALE: %s\n", stroops.FromStroopsBig(balances.FKale))
			return nil
		},
	}
}

func positionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "position <account>",
		Short: "Show a forward position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(false)
			if err != nil {
				return err
			}
			position, err := a.client.Position(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if position == nil {
				fmt.Println("No position")
				return nil
			}
			fmt.Printf("fKALE minted:   %s\n", stroops.FromStroopsBig(position.FKaleAmount))
			fmt.Printf("XLM locked:     %s\n", stroops.FromStroopsBig(position.XlmLocked))
			fmt.Printf("KALE delivered: %s\n", stroops.FromStroopsBig(position.KaleDelivered))
			fmt.Printf("Maturity:       %d\n", position.MaturityDate)
			fmt.Printf("Status:         %d\n", position.Status)
			return nil
		},
	}
}

func contractInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "contract-info",
		Short: "Show the forwards contract configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(false)
			if err != nil {
				return err
			}
			info, err := a.client.ContractInfo(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Admin:         %s\n", info.Admin)
			fmt.Printf("KALE SAC:      %s\n", info.KaleSac)
			fmt.Printf("XLM SAC:       %s\n", info.XlmSac)
			fmt.Printf("fKALE token:   %s\n", info.FKaleToken)
			fmt.Printf("Exchange rate: %s fKALE per XLM\n", info.ExchangeRate)
			fmt.Printf("Lock period:   %d days\n", info.LockPeriodDays)
			return nil
		},
	}
}

func canWithdrawCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "can-withdraw <account>",
		Short: "Check whether locked XLM can be withdrawn",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(false)
			if err != nil {
				return err
			}
			allowed, err := a.client.CanWithdraw(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Println(allowed)
			return nil
		},
	}
}

func totalKaleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "total-kale",
		Short: "Show the KALE available for redemption",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(false)
			if err != nil {
				return err
			}
			total, err := a.client.TotalKaleAvailable(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Total KALE available: %s\n", stroops.FromStroopsBig(total))
			return nil
		},
	}
}

func buyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "buy <xlm-amount> [account]",
		Short: "Lock XLM and mint fKALE",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[0])
			if err != nil {
				return err
			}
			account, err := signerAddress(args[1:])
			if err != nil {
				return err
			}
			a, err := newApp(true)
			if err != nil {
				return err
			}
			return reportResult(a.client.BuyFKale(cmd.Context(), account, amount))
		},
	}
}

func depositCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "deposit <kale-amount> [account]",
		Short: "Deliver KALE against a position (approve + deposit)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[0])
			if err != nil {
				return err
			}
			account, err := signerAddress(args[1:])
			if err != nil {
				return err
			}
			a, err := newApp(true)
			if err != nil {
				return err
			}
			return reportResult(a.client.DepositKaleForRedemption(cmd.Context(), account, amount))
		},
	}
}

func redeemCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "redeem <fkale-amount> [account]",
		Short: "Burn fKALE for delivered KALE",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[0])
			if err != nil {
				return err
			}
			account, err := signerAddress(args[1:])
			if err != nil {
				return err
			}
			a, err := newApp(true)
			if err != nil {
				return err
			}
			return reportResult(a.client.RedeemFKale(cmd.Context(), account, amount))
		},
	}
}

func withdrawCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "withdraw [account]",
		Short: "Withdraw matured XLM collateral",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := signerAddress(args)
			if err != nil {
				return err
			}
			a, err := newApp(true)
			if err != nil {
				return err
			}
			return reportResult(a.client.WithdrawXlm(cmd.Context(), account))
		},
	}
}

func liquidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "liquidate <account>",
		Short: "Liquidate a matured, under-delivered position (admin only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			admin, err := signerAddress(nil)
			if err != nil {
				return err
			}
			a, err := newApp(true)
			if err != nil {
				return err
			}
			return reportResult(a.client.LiquidatePosition(cmd.Context(), admin, args[0]))
		},
	}
}
