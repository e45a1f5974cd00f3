package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franksops/gorelay/internal/sftptest"
	"github.com/franksops/gorelay/relayerr"
)

// withSFTP points the fixture at a real in-process SFTP server.
func withSFTP(t *testing.T, f *fixture) *sftptest.Server {
	t.Helper()
	srv := sftptest.Start(t)
	logger, _ := test.NewNullLogger()
	f.orch.dialer = NewTransportDialer(logger)

	known := srv.WriteKnownHosts(t)
	f.cfg.CTS.Host = srv.Host
	f.cfg.CTS.User = srv.User
	f.cfg.CTS.PrivateKey = string(srv.ClientKeyPEM)
	f.cfg.CTS.PrivateKeyPath = ""
	f.cfg.CTS.KnownHosts = known
	f.cfg.CTS.DownloadPort = srv.Port
	f.cfg.CTS.UploadPort = srv.Port
	f.cfg.Relay.KnownHosts = known
	f.cfg.Relay.SourcePort = srv.Port
	f.cfg.Relay.DestinationPort = srv.Port
	return srv
}

func TestSFTP_DownloadAllZips(t *testing.T) {
	f := newFixture(t)
	withSFTP(t, f)
	write(t, filepath.Join(f.remoteDown, "CL_1.zip"), "chile")
	write(t, filepath.Join(f.remoteDown, "skip.csv"), "nope")

	rep := f.orch.DownloadAllZips(context.Background())

	require.True(t, rep.Success, rep.Cause)
	assert.Equal(t, []string{"CL_1.zip"}, dirNames(t, f.download))
	assert.Equal(t, "chile", read(t, filepath.Join(f.download, "CL_1.zip")))
}

func TestSFTP_UploadAllZipsRoutesByPrefix(t *testing.T) {
	f := newFixture(t)
	withSFTP(t, f)
	require.NoError(t, os.MkdirAll(filepath.Join(f.remoteUp, "CL"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(f.remoteUp, "PE"), 0o755))
	write(t, filepath.Join(f.upload, "CL_1.zip"), "chile")
	write(t, filepath.Join(f.upload, "PE_1.zip"), "peru")

	rep := f.orch.UploadAllZips(context.Background())

	require.True(t, rep.Success, rep.Cause)
	require.Len(t, rep.Files, 2)
	assert.Equal(t, "chile", read(t, filepath.Join(f.remoteUp, "CL", "CL_1.zip")))
	assert.Equal(t, "peru", read(t, filepath.Join(f.remoteUp, "PE", "PE_1.zip")))
	for _, file := range rep.Files {
		assert.False(t, file.RouteFallback, file.Name)
	}

	assert.ElementsMatch(t, []string{"CL_1.zip", "PE_1.zip"}, dirNames(t, f.sent))
}

func TestSFTP_UploadAllZipsRelativeUploadPath(t *testing.T) {
	f := newFixture(t)
	withSFTP(t, f)
	// The server's login directory is the process working directory.
	home := filepath.Dir(f.remoteUp)
	t.Chdir(home)
	f.cfg.CTS.UploadPath = filepath.Base(f.remoteUp)
	require.NoError(t, os.MkdirAll(filepath.Join(f.remoteUp, "CL"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(f.remoteUp, "PE"), 0o755))
	write(t, filepath.Join(f.upload, "CL_1.zip"), "chile")
	write(t, filepath.Join(f.upload, "PE_1.zip"), "peru")

	rep := f.orch.UploadAllZips(context.Background())

	require.True(t, rep.Success, rep.Cause)
	require.Len(t, rep.Files, 2)
	for _, file := range rep.Files {
		assert.False(t, file.RouteFallback, file.Name)
	}
	assert.Equal(t, "chile", read(t, filepath.Join(f.remoteUp, "CL", "CL_1.zip")))
	assert.Equal(t, "peru", read(t, filepath.Join(f.remoteUp, "PE", "PE_1.zip")))
	assert.NoDirExists(t, filepath.Join(f.remoteUp, "CL", "incoming"))
	assert.NoFileExists(t, filepath.Join(home, "PE_1.zip"))
}

func TestSFTP_Relay(t *testing.T) {
	f := newFixture(t)
	srv := withSFTP(t, f)
	srcDir, dstDir := t.TempDir(), t.TempDir()
	write(t, filepath.Join(srcDir, "report.zip"), "relayed over ssh")

	req := relayRequest(filepath.Join(srcDir, "report.zip"), filepath.Join(dstDir, "report.zip"))
	req.Source.Host, req.Source.User, req.Source.Password = srv.Host, srv.User, srv.Password
	req.Destination.Host, req.Destination.User, req.Destination.Password = srv.Host, srv.User, srv.Password

	rep := f.orch.Relay(context.Background(), req)

	require.True(t, rep.Success, rep.Cause)
	assert.Equal(t, "relayed over ssh", read(t, filepath.Join(dstDir, "report.zip")))
	assert.Empty(t, dirNames(t, f.staging))
}

func TestSFTP_RelayRejectsUnknownHostKey(t *testing.T) {
	f := newFixture(t)
	srv := withSFTP(t, f)
	f.cfg.Relay.KnownHosts = srv.WriteWrongKnownHosts(t)

	req := relayRequest("/src/report.zip", "/dst/report.zip")
	req.Source.Host, req.Source.User, req.Source.Password = srv.Host, srv.User, srv.Password
	req.Destination.Host = srv.Host

	rep := f.orch.Relay(context.Background(), req)

	assert.False(t, rep.Success)
	assert.Equal(t, relayerr.KindAuth, rep.Kind)
}
