package cli

import (
	"fmt"

	"github.com/corpusworks/corpus/internal/config"
	"github.com/corpusworks/corpus/internal/version"

	"github.com/spf13/cobra"
)

func NewStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show resolved configuration",
		Long:  `Display the resolved service configuration and version information.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus()
		},
	}

	return cmd
}

func runStatus() error {
	info := version.Get()

	fmt.Printf("corpus %s (%s, %s)\n", info.Version, info.GoVersion, info.Platform)

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	fmt.Printf("HTTP address:    %s\n", cfg.HTTPAddress)
	fmt.Printf("Store:           %s\n", storeMode(cfg.PostgresDSN != "", "postgres", "in-memory"))
	fmt.Printf("Sessions:        %s\n", storeMode(cfg.RedisAddr != "", "redis", "in-memory"))
	fmt.Printf("Object storage:  %s\n", storeMode(cfg.S3Bucket != "", "s3", "filesystem"))
	fmt.Printf("API keys:        %d configured\n", len(cfg.APIKeys))

	return nil
}

func storeMode(external bool, externalName, localName string) string {
	if external {
		return externalName
	}
	return localName
}
