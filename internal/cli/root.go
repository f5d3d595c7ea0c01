// Package cli is the chainblog command line client. It reads and writes
// the ledger directly and publishes posts through the backend API.
package cli

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/emilythestrangee/chainblog/backend/internal/ledger"
	"github.com/emilythestrangee/chainblog/backend/internal/logging"
)

type app struct {
	rpcURL     string
	contract   string
	chainID    int64
	privateKey string
	keystore   string
	passphrase string
	apiURL     string
	apiToken   string
	memory     bool
	timeout    time.Duration
	logLevel   string

	// ledger is set once per process; tests preset it.
	ledger  ledger.Contract
	wallet  ledger.Wallet
	client  *ledger.Client
	closeFn func()
}

var (
	heading = color.New(color.FgHiCyan, color.Bold)
	success = color.New(color.FgGreen)
	muted   = color.New(color.FgHiBlack)
	warn    = color.New(color.FgYellow)
)

// NewRootCmd builds the chainblog command tree. Flag defaults come from
// the same environment variables the API server reads.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&app{})
}

func newRootCmd(a *app) *cobra.Command {
	env := viper.New()
	env.AutomaticEnv()
	env.SetDefault("RPC_URL", "http://127.0.0.1:8545")
	env.SetDefault("CHAIN_ID", 31337)
	env.SetDefault("CHAINBLOG_API_URL", "http://localhost:8080")

	root := &cobra.Command{
		Use:           "chainblog [command] [flags]",
		Short:         "ChainBlog: a blog whose posts live on chain",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logging.Init(a.logLevel)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.rpcURL, "rpc-url", env.GetString("RPC_URL"), "JSON-RPC endpoint of the chain")
	flags.StringVar(&a.contract, "contract", env.GetString("CONTRACT_ADDRESS"), "Address of the blog contract")
	flags.Int64Var(&a.chainID, "chain-id", env.GetInt64("CHAIN_ID"), "Chain id used to sign transactions")
	flags.StringVar(&a.privateKey, "private-key", env.GetString("PRIVATE_KEY"), "Hex private key of the signing account")
	flags.StringVar(&a.keystore, "keystore", "", "Path to an encrypted keystore file")
	flags.StringVar(&a.passphrase, "passphrase", env.GetString("KEYSTORE_PASSPHRASE"), "Passphrase of the keystore file")
	flags.StringVar(&a.apiURL, "api-url", env.GetString("CHAINBLOG_API_URL"), "Base URL of the chainblog API")
	flags.StringVar(&a.apiToken, "api-token", env.GetString("CHAINBLOG_API_TOKEN"), "Bearer token for the chainblog API")
	flags.BoolVar(&a.memory, "memory", false, "Use a throwaway in-memory ledger")
	flags.DurationVar(&a.timeout, "timeout", ledger.DefaultTimeout, "Bound on every ledger call")
	flags.StringVar(&a.logLevel, "log-level", "warn", "Log level")

	root.AddCommand(
		a.connectCmd(),
		a.postsCmd(),
		a.postCmd(),
		a.commentsCmd(),
		a.myCommentsCmd(),
		a.reactionCmd(),
		a.voteCmd(),
		a.commentCmd(),
		a.publishCmd(),
		a.tokenCmd(),
	)
	return root
}

// Execute runs the command line and prints the error, if any.
func Execute() int {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		color.New(color.FgRed).Fprintf(root.ErrOrStderr(), "Error: %v\n", err)
		return 1
	}
	return 0
}

func (a *app) openWallet() (ledger.Wallet, error) {
	chainID := big.NewInt(a.chainID)
	switch {
	case a.wallet != nil:
		return a.wallet, nil
	case a.privateKey != "":
		return ledger.NewKeyWallet(a.privateKey, chainID)
	case a.keystore != "":
		return ledger.OpenKeystoreWallet(a.keystore, a.passphrase, chainID)
	case a.memory:
		return ledger.GenerateKeyWallet(chainID)
	default:
		return nil, nil
	}
}

// ledgerClient opens the ledger on first use. Without a wallet the client
// can still read.
func (a *app) ledgerClient(ctx context.Context) (*ledger.Client, error) {
	if a.client != nil {
		return a.client, nil
	}

	if a.ledger == nil {
		if a.memory {
			a.ledger = ledger.NewMemoryContract()
		} else {
			if a.contract == "" {
				return nil, errors.New("--contract or CONTRACT_ADDRESS is required")
			}
			addr, err := ledger.ParseAddress(a.contract)
			if err != nil {
				return nil, fmt.Errorf("contract: %w", err)
			}
			eth, err := ledger.DialEthContract(ctx, a.rpcURL, addr)
			if err != nil {
				return nil, err
			}
			a.ledger, a.closeFn = eth, eth.Close
		}
	}

	wallet, err := a.openWallet()
	if err != nil {
		return nil, err
	}

	opts := []ledger.Option{ledger.WithTimeout(a.timeout)}
	if wallet != nil {
		opts = append(opts, ledger.WithWallet(wallet))
	}
	a.client = ledger.NewClient(a.ledger, opts...)
	return a.client, nil
}

// connected opens the ledger and establishes the signing identity.
func (a *app) connected(ctx context.Context) (*ledger.Client, error) {
	client, err := a.ledgerClient(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := client.Address(); ok {
		return client, nil
	}
	if _, err := client.Connect(ctx); err != nil {
		if errors.Is(err, ledger.ErrWalletUnavailable) {
			return nil, fmt.Errorf("%w: pass --private-key or --keystore", err)
		}
		return nil, err
	}
	return client, nil
}

func (a *app) close() {
	if a.closeFn != nil {
		a.closeFn()
		a.closeFn = nil
	}
}

func formatTime(unix int64) string {
	return time.Unix(unix, 0).Local().Format("Jan 2, 2006 15:04")
}

func shortAddress(s string) string {
	if len(s) <= 12 {
		return s
	}
	return s[:6] + "..." + s[len(s)-4:]
}

func splitTags(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.Split(s, ",")
}
