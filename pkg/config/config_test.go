package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
journal_dir: /var/lib/linkcore
metrics_addr: ":9100"
links:
  - name: plc-1
    ingress_topics: ["plc-1/status", "plc-1/alarms"]
    egress_topic: plc-1/cmd
`

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "linkcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTemp(t, sampleYAML)
	doc, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 5*time.Second, doc.AckTimeout)
	require.Equal(t, 60*time.Second, doc.PeerSilenceTimeout)
	require.Equal(t, 8, doc.MaxInFlight)
	require.Equal(t, ":9100", doc.MetricsAddr)
	require.Len(t, doc.Links, 1)
	require.Equal(t, 5*time.Second, doc.Links[0].AckTimeout)
	require.Equal(t, 1*time.Second, doc.Links[0].ReconnectBackoff.Floor)
}

func TestLoadRejectsMissingJournalDir(t *testing.T) {
	path := writeTemp(t, `
links:
  - name: plc-1
    ingress_topics: ["plc-1/status"]
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsLinkWithNoIngressTopics(t *testing.T) {
	path := writeTemp(t, `
journal_dir: /tmp/x
links:
  - name: plc-1
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsEmptyLinksList(t *testing.T) {
	path := writeTemp(t, `
journal_dir: /tmp/x
links: []
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestEnvOverrideWinsOverFile(t *testing.T) {
	path := writeTemp(t, sampleYAML)
	t.Setenv("LINKCORE_METRICS_ADDR", ":7000")
	t.Setenv("LINKCORE_ACK_TIMEOUT", "9s")

	doc, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":7000", doc.MetricsAddr)
	require.Equal(t, 9*time.Second, doc.AckTimeout)
}

func TestPerLinkFieldOverridesDocumentDefault(t *testing.T) {
	path := writeTemp(t, `
journal_dir: /tmp/x
ack_timeout: 3s
links:
  - name: plc-1
    ingress_topics: ["a"]
    ack_timeout: 30s
  - name: plc-2
    ingress_topics: ["b"]
`)
	doc, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, doc.Links[0].AckTimeout)
	require.Equal(t, 3*time.Second, doc.Links[1].AckTimeout)
}
