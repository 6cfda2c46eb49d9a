package logger

import (
	"bytes"
	"log"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("DEBUG"))
	assert.Equal(t, WARN, ParseLevel("warning"))
	assert.Equal(t, ERROR, ParseLevel(" error "))
	assert.Equal(t, INFO, ParseLevel("verbose"))
}

func TestNamedLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)
	defer SetLevel(INFO)

	SetLevel(WARN)
	l := Named("dispatcher")
	l.Info("不应输出")
	assert.Empty(t, buf.String())

	SetLevel(DEBUG)
	l.Info("集群 %d 检查完成", 7)
	assert.Contains(t, buf.String(), "[INFO] [dispatcher] 集群 7 检查完成")
}
