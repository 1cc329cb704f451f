package record

import (
	"io"
	"os"

	"github.com/parquet-go/parquet-go"
	"github.com/pkg/errors"
)

const parquetBatch = 1024

// ParquetWriter buffers rows and writes them in batches.
type ParquetWriter struct {
	writer *parquet.GenericWriter[Row]
	closer io.Closer
	buf    [parquetBatch]Row
	i      int
}

func NewParquetWriter(w io.Writer) *ParquetWriter {
	return &ParquetWriter{writer: parquet.NewGenericWriter[Row](w)}
}

// CreateParquet truncates path and writes rows to it. Close also closes
// the file.
func CreateParquet(path string) (*ParquetWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.WithMessage(err, "could not create parquet file")
	}
	pw := NewParquetWriter(f)
	pw.closer = f
	return pw, nil
}

func (pw *ParquetWriter) Record(r Row) error {
	if pw.i == parquetBatch {
		if err := pw.flush(); err != nil {
			return err
		}
	}
	pw.buf[pw.i] = r
	pw.i++
	return nil
}

func (pw *ParquetWriter) flush() error {
	if _, err := pw.writer.Write(pw.buf[:pw.i]); err != nil {
		return errors.Wrap(err, "writing parquet rows")
	}
	clear(pw.buf[:])
	pw.i = 0
	return nil
}

func (pw *ParquetWriter) Close() error {
	if err := pw.flush(); err != nil {
		return err
	}
	if err := pw.writer.Close(); err != nil {
		return errors.Wrap(err, "closing parquet writer")
	}
	if pw.closer != nil {
		return pw.closer.Close()
	}
	return nil
}
