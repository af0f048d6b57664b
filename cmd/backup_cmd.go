package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/recall/internal/backup"
)

func backupCmd() *cobra.Command {
	var bucket string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Upload a store archive to S3",
		Long: `backup exports the whole store as JSON and uploads it to the
configured S3 bucket. Point backup.endpoint at MinIO or another
S3-compatible server to keep archives off AWS.`,
		Run: func(cmd *cobra.Command, args []string) {
			runBackup(bucket)
		},
	}
	cmd.Flags().StringVar(&bucket, "bucket", "", "override the configured bucket")
	return cmd
}

func runBackup(bucket string) {
	cfg := loadConfig()
	if bucket == "" {
		bucket = cfg.Backup.S3Bucket
	}

	secretKey, err := cfg.BackupSecretKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error resolving backup credentials: %s\n", err)
		os.Exit(1)
	}

	st := openStore(cfg)
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	key, err := backup.Upload(ctx, st, backup.Options{
		Bucket:          bucket,
		Prefix:          cfg.Backup.S3Prefix,
		Region:          cfg.Backup.Region,
		Endpoint:        cfg.Backup.Endpoint,
		AccessKeyID:     cfg.Backup.AccessKeyID,
		SecretAccessKey: secretKey,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	fmt.Printf("Uploaded s3://%s/%s\n", bucket, key)
}
