package logging

import (
	"io"

	"go.uber.org/zap/zapcore"
)

// Appender is an output for log entries. Any zapcore.Core satisfies it.
type Appender interface {
	Write(zapcore.Entry, []zapcore.Field) error
	Sync() error
}

// WriterAppender console-encodes entries onto an io.Writer.
type WriterAppender struct {
	io.Writer
	encoder zapcore.Encoder
}

// NewWriterAppender returns an appender that writes console-encoded log lines to the writer.
func NewWriterAppender(writer io.Writer) Appender {
	return &WriterAppender{Writer: writer, encoder: zapcore.NewConsoleEncoder(NewLoggerConfig())}
}

// Write encodes and writes a single entry.
func (appender *WriterAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	buf, err := appender.encoder.EncodeEntry(entry, fields)
	if err != nil {
		return err
	}
	defer buf.Free()
	_, err = appender.Writer.Write(buf.Bytes())
	return err
}

// Sync flushes the underlying writer when it supports it.
func (appender *WriterAppender) Sync() error {
	if syncer, ok := appender.Writer.(zapcore.WriteSyncer); ok {
		// stdout on some platforms refuses fsync; that is not worth surfacing.
		//nolint:errcheck
		syncer.Sync()
	}
	return nil
}
