// Command meshpayd serves the payment gate and mesh distribution API.
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/meshpay/x402-mesh-go/server"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		port           string
		walletAddress  string
		price          string
		network        string
		facilitatorURL string
		stepDelay      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "meshpayd",
		Short: "Payment-gated content server with mesh distribution",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Flags win over environment; environment wins over .env.
			_ = godotenv.Load()

			if walletAddress == "" {
				walletAddress = os.Getenv("WALLET_ADDRESS")
			}
			if walletAddress == "" {
				return fmt.Errorf("wallet address required (--wallet or WALLET_ADDRESS)")
			}
			if price == "" {
				price = envOr("PAYMENT_AMOUNT", "$0.10")
			}
			if network == "" {
				network = envOr("NETWORK", "avalanche")
			}
			if facilitatorURL == "" {
				facilitatorURL = envOr("FACILITATOR_URL", "https://facilitator.payai.network")
			}
			if port == "" {
				port = envOr("PORT", "8080")
			}

			logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
			slog.SetDefault(logger)

			s, err := server.New(server.Config{
				WalletAddress:  walletAddress,
				Price:          price,
				Network:        network,
				FacilitatorURL: facilitatorURL,
				StepDelay:      stepDelay,
				Logger:         logger,
			})
			if err != nil {
				return err
			}

			addr := ":" + port
			logger.Info("listening", "addr", addr, "network", network, "facilitator", facilitatorURL)
			return http.ListenAndServe(addr, s.Handler())
		},
	}

	cmd.Flags().StringVar(&port, "port", "", "listen port (default 8080, env PORT)")
	cmd.Flags().StringVar(&walletAddress, "wallet", "", "receiving wallet address (env WALLET_ADDRESS)")
	cmd.Flags().StringVar(&price, "price", "", "gate price, e.g. $0.10 (env PAYMENT_AMOUNT)")
	cmd.Flags().StringVar(&network, "network", "", "target network (env NETWORK)")
	cmd.Flags().StringVar(&facilitatorURL, "facilitator", "", "facilitator URL (env FACILITATOR_URL)")
	cmd.Flags().DurationVar(&stepDelay, "step-delay", 500*time.Millisecond, "pause between mesh steps")
	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
