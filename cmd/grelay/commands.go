package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/franksops/gorelay/orchestrator"
	"github.com/franksops/gorelay/server"
	"github.com/franksops/gorelay/store"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var address string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the relay workflows over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.tui = false
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if address == "" {
				address = a.cfg.Server.Address
			}
			srv := server.New(address, a.orch, a.jobs, a.archiver, a.logger)
			if err := srv.Start(); err != nil {
				return err
			}
			<-cmd.Context().Done()
			srv.Stop()
			return nil
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "listen address (default: server.address)")
	return cmd
}

// keyFlags are the connection flags shared by the request-style commands.
type keyFlags struct {
	host       string
	port       int
	user       string
	privateKey string
	passphrase string
	knownHosts string
	trustAll   bool
}

func (k *keyFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&k.host, "host", "", "SFTP server host")
	cmd.Flags().IntVar(&k.port, "port", 0, "SFTP server port (default: configured port)")
	cmd.Flags().StringVar(&k.user, "user", "", "SFTP user")
	cmd.Flags().StringVar(&k.privateKey, "key", "", "private key file")
	cmd.Flags().StringVar(&k.passphrase, "passphrase", "", "private key passphrase")
	cmd.Flags().StringVar(&k.knownHosts, "known-hosts", "", "known_hosts file (default: cts.known_hosts)")
	cmd.Flags().BoolVar(&k.trustAll, "trust-all", false, "skip host key verification (must be allowed by configuration)")
}

func (k *keyFlags) auth() orchestrator.KeyAuth {
	return orchestrator.KeyAuth{
		Host:       k.host,
		Port:       k.port,
		User:       k.user,
		PrivateKey: k.privateKey,
		Passphrase: k.passphrase,
		KnownHosts: k.knownHosts,
		TrustAll:   k.trustAll,
	}
}

func newDownloadCmd(opts *rootOptions) *cobra.Command {
	var (
		key        keyFlags
		remotePath string
		localDir   string
	)
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download every zip from the CTS download directory",
		Long: `Download every zip from the configured CTS download directory into the local
download directory. With --host, download from that server instead, using
--remote-path and --local-dir.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if key.host == "" {
				return a.execute(cmd, a.orch.DownloadAllZips)
			}
			req := orchestrator.DownloadRequest{KeyAuth: key.auth(), RemotePath: remotePath, LocalDir: localDir}
			return a.execute(cmd, func(ctx context.Context) *orchestrator.Report {
				return a.orch.DownloadAll(ctx, req)
			})
		},
	}
	key.register(cmd)
	cmd.Flags().StringVar(&remotePath, "remote-path", "", "remote directory to download from (with --host)")
	cmd.Flags().StringVar(&localDir, "local-dir", "", "local directory to download into (with --host)")
	return cmd
}

func newUploadCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "upload",
		Short: "Upload every local zip to the CTS server, routed by country prefix",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.execute(cmd, a.orch.UploadAllZips)
		},
	}
}

func newUploadFileCmd(opts *rootOptions) *cobra.Command {
	var (
		key        keyFlags
		remotePath string
	)
	cmd := &cobra.Command{
		Use:   "upload-file <local-file>",
		Short: "Upload one local file to a server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			req := orchestrator.UploadRequest{KeyAuth: key.auth(), LocalFile: args[0], RemotePath: remotePath}
			return a.execute(cmd, func(ctx context.Context) *orchestrator.Report {
				return a.orch.UploadOne(ctx, req)
			})
		},
	}
	key.register(cmd)
	cmd.Flags().StringVar(&remotePath, "remote-path", "", "remote file or directory to upload to")
	return cmd
}

// endpointFlags describe one side of a relay. Passwords may come from the
// environment to keep them out of the process list.
type endpointFlags struct {
	side     string
	endpoint orchestrator.Endpoint
}

func (e *endpointFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&e.endpoint.Host, e.side+"-host", "", e.side+" server host")
	cmd.Flags().IntVar(&e.endpoint.Port, e.side+"-port", 0, e.side+" server port (default: relay."+e.side+"_port)")
	cmd.Flags().StringVar(&e.endpoint.User, e.side+"-user", "", e.side+" server user")
	cmd.Flags().StringVar(&e.endpoint.Password, e.side+"-password", "", e.side+" server password (or "+e.passwordEnv()+")")
	cmd.Flags().StringVar(&e.endpoint.RemotePath, e.side+"-path", "", e.side+" remote file path")
}

func (e *endpointFlags) passwordEnv() string {
	if e.side == "source" {
		return "GRELAY_SOURCE_PASSWORD"
	}
	return "GRELAY_DESTINATION_PASSWORD"
}

func (e *endpointFlags) resolve() orchestrator.Endpoint {
	ep := e.endpoint
	if ep.Password == "" {
		ep.Password = os.Getenv(e.passwordEnv())
	}
	return ep
}

func newRelayCmd(opts *rootOptions) *cobra.Command {
	src := &endpointFlags{side: "source"}
	dst := &endpointFlags{side: "destination"}
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Copy one file from a source server to a destination server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			req := orchestrator.RelayRequest{Source: src.resolve(), Destination: dst.resolve()}
			return a.execute(cmd, func(ctx context.Context) *orchestrator.Report {
				return a.orch.Relay(ctx, req)
			})
		},
	}
	src.register(cmd)
	dst.register(cmd)
	return cmd
}

func newJobsCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recent transfer jobs from the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(opts)
			if err != nil {
				return err
			}
			jobs, err := openStore(cfg)
			if err != nil {
				return err
			}
			if jobs == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Job ledger disabled (state.db_path is empty).")
				return nil
			}
			defer closeStore(jobs, logger)

			records, err := jobs.ListJobs(limit)
			if err != nil {
				return err
			}
			printJobs(cmd.OutOrStdout(), records)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of jobs to show (0 for all)")
	return cmd
}

func printJobs(w io.Writer, records []*store.JobRecord) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No jobs recorded.")
		return
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("STARTED", "OPERATION", "DIRECTION", "HOST", "REMOTE PATH", "STATE", "BYTES", "ERROR")
	for _, r := range records {
		t.Row(
			r.StartedAt.Local().Format(time.DateTime),
			r.Operation,
			r.Direction,
			r.Host,
			r.RemotePath,
			string(r.State),
			strconv.FormatInt(r.BytesTransferred, 10),
			r.Error,
		)
	}
	fmt.Fprintln(w, t.String())
}

func printReport(w io.Writer, rep *orchestrator.Report) {
	if rep.Success {
		fmt.Fprintf(w, "%s complete: %d file(s), %d bytes in %s (run %s)\n",
			rep.Operation, rep.Transferred(), rep.Bytes, rep.Duration().Round(time.Millisecond), rep.RunID)
	} else {
		fmt.Fprintf(w, "%s failed: %s (run %s)\n", rep.Operation, rep.Cause, rep.RunID)
	}
	for _, f := range rep.Failed() {
		fmt.Fprintf(w, "  FAILED %s: %s\n", f.Name, f.Error)
	}
	for _, f := range rep.Files {
		if f.OK() && f.RouteFallback {
			fmt.Fprintf(w, "  %s uploaded to fallback %s\n", f.Name, f.RemotePath)
		}
	}
}
