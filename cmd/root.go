package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tanq16/recmirror/internal/output"
	"github.com/tanq16/recmirror/internal/utils"
)

var (
	recordID   string
	outputDir  string
	configFile string
)

var RecmirrorVersion = "dev"

var rootCmd = &cobra.Command{
	Use:     "recmirror -r RECORD [-o OUTPUT_DIR]",
	Short:   "recmirror mirrors every file of a research data record with resume and checksum verification",
	Version: RecmirrorVersion,
	Args:    cobra.NoArgs,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initConfig(); err != nil {
			return err
		}
		utils.InitLogger(viper.GetBool("debug"))
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		if recordID == "" {
			cmd.Usage()
			fatal(fmt.Errorf("no record provided"))
		}
		cfg, err := loadConfig()
		if err != nil {
			fatal(err)
		}
		m, err := buildMirror(cmd.Context(), cfg)
		if err != nil {
			fatal(err)
		}
		summary, err := m.Run(cmd.Context(), recordID, outputDir)
		printSummary(summary)
		if err != nil {
			fatal(err)
		}
	},
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringVarP(&recordID, "record", "r", "", "Record identifier to mirror")
	rootCmd.Flags().StringVarP(&outputDir, "output", "o", ".", "Output directory")

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "YAML config file with defaults for any flag")
	flags.Bool("debug", false, "Enable debug logging")
	flags.String("api-url", utils.DefaultAPIURL, "Base URL of the records API")
	flags.Int64("chunk-size", utils.DefaultChunkSize, "Bytes per write; the partial file is always a multiple of this")
	flags.Int("max-attempts", 0, "Download attempts per file before giving up (0 retries forever)")
	flags.Duration("retry-delay", 0, "Pause between attempts (eg. 5s)")
	flags.Bool("no-range", false, "Never send Range requests; resumed files skip the downloaded prefix locally")
	flags.DurationP("timeout", "t", utils.DefaultHeaderTimeout, "Time to wait for response headers (eg. 30s, 2m)")
	flags.Duration("connect-timeout", utils.DefaultConnectTimeout, "Time to establish a connection")
	flags.Duration("read-timeout", utils.DefaultReadTimeout, "Abort an attempt when no body bytes arrive for this long")
	flags.DurationP("keep-alive-timeout", "k", utils.DefaultKeepAliveTimeout, "Keep-alive timeout for idle connections")
	flags.StringP("user-agent", "a", utils.ToolUserAgent, "User agent")
	flags.StringArrayP("header", "H", []string{}, "Custom headers (like 'X-Token: abc'); can be specified multiple times")
	flags.String("s3-bucket", "", "Copy verified files to this S3 bucket")
	flags.String("s3-prefix", "", "Key prefix inside the S3 bucket")
	flags.String("s3-profile", "", "AWS shared config profile for S3")
	viper.BindPFlags(flags)

	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newVerifyCmd())
	rootCmd.AddCommand(newCleanCmd())
	rootCmd.AddCommand(newBatchCmd())
}

func initConfig() error {
	viper.SetEnvPrefix(utils.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	if configFile == "" {
		return nil
	}
	viper.SetConfigFile(configFile)
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// loadConfig resolves flags, environment and config file into one value.
func loadConfig() (utils.MirrorConfig, error) {
	cfg := utils.MirrorConfig{
		APIURL:      strings.TrimRight(viper.GetString("api-url"), "/"),
		ChunkSize:   viper.GetInt64("chunk-size"),
		MaxAttempts: viper.GetInt("max-attempts"),
		RetryDelay:  viper.GetDuration("retry-delay"),
		RangeResume: !viper.GetBool("no-range"),
		ReadTimeout: viper.GetDuration("read-timeout"),
		HTTPClientConfig: utils.HTTPClientConfig{
			Timeout:        viper.GetDuration("timeout"),
			ConnectTimeout: viper.GetDuration("connect-timeout"),
			KATimeout:      viper.GetDuration("keep-alive-timeout"),
			UserAgent:      viper.GetString("user-agent"),
			Headers:        utils.ParseHeaderArgs(viper.GetStringSlice("header")),
		},
		S3: utils.S3Config{
			Bucket:  viper.GetString("s3-bucket"),
			Prefix:  viper.GetString("s3-prefix"),
			Profile: viper.GetString("s3-profile"),
		},
	}
	if cfg.APIURL == "" {
		return cfg, fmt.Errorf("api-url must not be empty")
	}
	if err := utils.ValidateChunkSize(cfg.ChunkSize); err != nil {
		return cfg, err
	}
	if cfg.MaxAttempts < 0 {
		return cfg, fmt.Errorf("max-attempts must not be negative")
	}
	for name, d := range map[string]time.Duration{
		"retry-delay":  cfg.RetryDelay,
		"read-timeout": cfg.ReadTimeout,
	} {
		if d < 0 {
			return cfg, fmt.Errorf("%s must not be negative", name)
		}
	}
	return cfg, nil
}

func fatal(err error) {
	fmt.Println()
	output.PrintError(err.Error())
	os.Exit(1)
}
