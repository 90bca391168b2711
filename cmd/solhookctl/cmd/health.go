package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const grpcHealthService = "solhook.api"

type healthStatus struct {
	OK       bool   `json:"ok"`
	Message  string `json:"message"`
	Database bool   `json:"database"`
	Redis    bool   `json:"redis"`
}

func grpcHealth(ctx context.Context, addr string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: grpcHealthService})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

// healthCmd represents the health command
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the health of the solhook API",
	Long:  `Check the health status of the solhook API over HTTP, or with --use-grpc through the gRPC health service.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		out := cmd.OutOrStdout()

		if useGRPC, _ := cmd.Flags().GetBool("use-grpc"); useGRPC {
			st, err := grpcHealth(ctx, grpcAddr)
			if err != nil {
				return fmt.Errorf("gRPC health check failed: %w", err)
			}
			if st != healthpb.HealthCheckResponse_SERVING {
				fmt.Fprintf(out, "✗ Service is unhealthy (gRPC %s)\n", st)
				return errUnhealthy
			}
			fmt.Fprintln(out, "✓ Service is healthy (gRPC)")
			return nil
		}

		var st healthStatus
		err := newClient().do(ctx, http.MethodGet, "/healthz", nil, &st)
		var apiErr *apiError
		if err != nil && !errors.As(err, &apiErr) {
			return fmt.Errorf("HTTP health check failed: %w", err)
		}
		if outputJSON && err == nil {
			return printJSON(out, st)
		}
		if err != nil {
			fmt.Fprintf(out, "✗ Service is unhealthy (HTTP %d: %s)\n", apiErr.Status, apiErr.Message)
			return errUnhealthy
		}
		fmt.Fprintf(out, "✓ Service is healthy (database=%t redis=%t)\n", st.Database, st.Redis)
		return nil
	},
}

var errUnhealthy = errors.New("service is unhealthy")

func init() {
	rootCmd.AddCommand(healthCmd)
	healthCmd.Flags().Bool("use-grpc", false, "check the gRPC health service instead of /healthz")
}
