package diagnostics

import (
	"bytes"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorLogsAndStores(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true, DisableColors: true})

	c := NewCollector(logger)
	c.Record(Diagnostic{
		Kind:    KindUnknownAuthor,
		Source:  "api",
		Message: "commit did not match any known users",
		Fields:  logrus.Fields{"author": "carol@x.com"},
	})

	items := c.Diagnostics()
	require.Len(t, items, 1)
	assert.False(t, items[0].At.IsZero())
	assert.Equal(t, 1, c.Count(KindUnknownAuthor))
	assert.Equal(t, 0, c.Count(KindFetchSkipped))

	out := buf.String()
	assert.Contains(t, out, "level=warning")
	assert.Contains(t, out, "author=carol@x.com")
	assert.Contains(t, out, "source=api")
}

func TestCollectorConcurrentRecord(t *testing.T) {
	c := NewCollector(nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Record(Diagnostic{Kind: KindFetchSkipped, Message: "skipped"})
		}()
	}
	wg.Wait()

	assert.Len(t, c.Diagnostics(), 50)
}

func TestDiagnosticsReturnsCopy(t *testing.T) {
	c := NewCollector(nil)
	c.Record(Diagnostic{Kind: KindUnknownAuthor, Message: "x"})

	items := c.Diagnostics()
	items[0].Message = "changed"
	assert.Equal(t, "x", c.Diagnostics()[0].Message)
}
