package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"ctorchestrator/internal/address"
	"ctorchestrator/internal/balance"
	"ctorchestrator/internal/channel"
	"ctorchestrator/internal/config"
	"ctorchestrator/internal/economic"
	"ctorchestrator/internal/httpserver"
	"ctorchestrator/internal/node"
	"ctorchestrator/internal/peer"
	"ctorchestrator/internal/subgraph"
)

func main() {
	rootCmd := &cobra.Command{Use: "ctorchestrator"}
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(configCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var configFile string
	var env string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "run the cover-traffic orchestrator",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()

			cfg, err := config.Load(configFile, env)
			if err != nil {
				return err
			}
			creds, err := config.NodesFromEnv()
			if err != nil {
				return err
			}

			metricsAddr := cfg.MetricsAddr
			if metricsAddr == "" {
				metricsAddr = ":8080"
			}
			metrics := httpserver.New(metricsAddr, log)
			metrics.Start()
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = metrics.Shutdown(ctx)
			}()

			nodes := make([]*node.Node, 0, len(creds))
			for _, c := range creds {
				params, buildErr := nodeParams(cfg, c)
				if buildErr != nil {
					return buildErr
				}
				nodes = append(nodes, node.New(params, log))
			}

			log.WithFields(logrus.Fields{
				"environment": cfg.Environment,
				"nodes":       len(nodes),
			}).Info("starting orchestrator")

			var group errgroup.Group
			for _, n := range nodes {
				n := n
				group.Go(n.Run)
			}
			return group.Wait()
		},
	}
	cmd.Flags().StringVar(&configFile, "configfile", "config.yaml", "the .yaml configuration file to use")
	cmd.Flags().StringVar(&env, "env", "", "environment overlay to merge on top of the configuration")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config"}
	var configFile string
	validate := &cobra.Command{
		Use:   "validate",
		Short: "load and validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile, "")
			if err != nil {
				return err
			}
			fmt.Printf("configuration for environment %q is valid\n", cfg.Environment)
			return nil
		},
	}
	validate.Flags().StringVar(&configFile, "configfile", "config.yaml", "the .yaml configuration file to use")
	cmd.AddCommand(validate)

	generate := &cobra.Command{
		Use:   "generate",
		Short: "print a configuration skeleton with every recognized key",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := config.Generate()
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
	cmd.AddCommand(generate)
	return cmd
}

func newLogger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	if lvl, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		log.SetLevel(lvl)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}
	return log
}

// nodeParams assembles one relay node's orchestration parameters from the
// loaded configuration — the explicit-composition step replacing the
// original's reflection-driven Parameters attachment.
func nodeParams(cfg *config.Config, creds config.NodeCredentials) (node.Params, error) {
	minBalance, err := balance.Parse(cfg.Channel.MinBalance)
	if err != nil {
		return node.Params{}, fmt.Errorf("channel.min_balance: %w", err)
	}
	fundingAmount, err := balance.Parse(cfg.Channel.FundingAmount)
	if err != nil {
		return node.Params{}, fmt.Errorf("channel.funding_amount: %w", err)
	}

	investors := make([]address.Address, 0, len(cfg.Investors.Addresses))
	for _, raw := range cfg.Investors.Addresses {
		a, addrErr := address.New(raw)
		if addrErr != nil {
			return node.Params{}, fmt.Errorf("investors.addresses: %w", addrErr)
		}
		investors = append(investors, a)
	}

	em := cfg.EconomicModel
	engine := economic.Engine{
		MinSafeAllowance: em.MinSafeAllowance,
		NFTThreshold:     em.NFTThreshold,
		Legacy: economic.LegacyParams{
			Coefficients: economic.LegacyCoefficients{
				A: em.Legacy.Coefficients.A,
				B: em.Legacy.Coefficients.B,
				C: em.Legacy.Coefficients.C,
				L: em.Legacy.Coefficients.L,
			},
			APR:        em.Legacy.APR,
			Proportion: em.Legacy.Proportion,
		},
		Sigmoid: economic.SigmoidParams{
			Buckets: []economic.BucketParams{
				{
					Flatness:   em.Sigmoid.Buckets.NetworkCapacity.Flatness,
					Skewness:   em.Sigmoid.Buckets.NetworkCapacity.Skewness,
					Upperbound: em.Sigmoid.Buckets.NetworkCapacity.Upperbound,
					Offset:     em.Sigmoid.Buckets.NetworkCapacity.Offset,
				},
				{
					Flatness:   em.Sigmoid.Buckets.EconomicSecurity.Flatness,
					Skewness:   em.Sigmoid.Buckets.EconomicSecurity.Skewness,
					Upperbound: em.Sigmoid.Buckets.EconomicSecurity.Upperbound,
					Offset:     em.Sigmoid.Buckets.EconomicSecurity.Offset,
				},
			},
			Offset:     em.Sigmoid.Offset,
			MaxAPR:     em.Sigmoid.MaxAPR,
			Proportion: em.Sigmoid.Proportion,
		},
		TotalTokenSupply: em.Sigmoid.TotalTokenSupply,
		NetworkCapacity:  em.Sigmoid.NetworkCapacity,
	}

	delays := make(node.TaskDelays)
	for name, seconds := range cfg.Flags.Node {
		if seconds > 0 {
			delays[name] = time.Duration(seconds * float64(time.Second))
		}
	}

	var safes, rewards node.SubgraphEndpoint
	if cfg.Subgraph.SafesBalance.QueryID != "" {
		safes = node.SubgraphEndpoint{
			URL: subgraph.URL{
				UserID:      cfg.Subgraph.UserID,
				DeployerKey: cfg.Subgraph.APIKey,
				Params: subgraph.EndpointParams{
					QueryID: cfg.Subgraph.SafesBalance.QueryID,
					Slug:    cfg.Subgraph.SafesBalance.Slug,
				},
			},
			Query:      subgraph.SafesQuery,
			DefaultKey: subgraph.SafesKey,
		}
	}
	if cfg.Subgraph.Rewards.QueryID != "" {
		rewards = node.SubgraphEndpoint{
			URL: subgraph.URL{
				UserID:      cfg.Subgraph.UserID,
				DeployerKey: cfg.Subgraph.APIKey,
				Params: subgraph.EndpointParams{
					QueryID: cfg.Subgraph.Rewards.QueryID,
					Slug:    cfg.Subgraph.Rewards.Slug,
				},
			},
			Query:      subgraph.RewardsQuery,
			DefaultKey: subgraph.RewardsKey,
		}
	}

	return node.Params{
		RESTBaseURL: creds.URL,
		RESTToken:   creds.Token,

		SessionQuality:          cfg.Peer.Quality,
		SessionBaseDelay:        cfg.SessionBaseDelay(),
		SessionMaxDelay:         cfg.SessionMaxDelay(),
		SessionDestinationCount: cfg.Sessions.DestinationCount,

		Emission: peer.EmissionParams{
			Enabled:          cfg.Flags.Peer["message_relay_request"] > 0,
			SleepMeanSeconds: cfg.Peer.SleepMeanTime,
			SleepStdSeconds:  cfg.Peer.SleepStdTime,
		},
		Channel: channel.Params{
			MinBalance:    minBalance,
			FundingAmount: fundingAmount,
			MaxAge:        time.Duration(cfg.Channel.MaxAgeSeconds) * time.Second,
		},
		Economic: engine,

		NFTHoldersPath: cfg.NFTHolders.Filepath,
		Investors: node.InvestorParams{
			Addresses: investors,
			Schedule:  cfg.Investors.Schedule,
		},
		RPCGnosisURL:  cfg.RPC.Gnosis,
		RPCMainnetURL: cfg.RPC.Mainnet,

		SafesSubgraph:   safes,
		RewardsSubgraph: rewards,

		Delays: delays,
	}, nil
}
