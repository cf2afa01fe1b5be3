package storage

import (
	"fmt"
	"io"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// parquetEventRow is the flat, tagged shape ExportParquet writes, mirroring
// the teacher's reconciler report-row struct (one struct tag per Parquet
// column, string-encoded timestamps).
type parquetEventRow struct {
	Sequence  int64  `parquet:"name=sequence, type=INT64"`
	Type      string `parquet:"name=type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp string `parquet:"name=timestamp, type=BYTE_ARRAY, convertedtype=UTF8"`
	Attrs     string `parquet:"name=attrs, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// ExportParquet streams the persisted event log between sequences [from, to)
// to w in Parquet format; when to <= from there is no upper bound and every
// sequence from `from` onward is exported. Meant for offline audit tooling to consume without
// talking to the live store.
func (s *Store) ExportParquet(w io.Writer, from, to uint64) error {
	var rows []eventRow
	query := s.db.Where("sequence >= ?", from).Order("sequence asc")
	if to > from {
		query = query.Where("sequence < ?", to)
	}
	if err := query.Find(&rows).Error; err != nil {
		return fmt.Errorf("storage: query events for export: %w", err)
	}

	fw := writerfile.NewWriterFile(w)
	pw, err := writer.NewParquetWriter(fw, new(parquetEventRow), 1)
	if err != nil {
		return fmt.Errorf("storage: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		out := parquetEventRow{
			Sequence:  int64(row.Sequence),
			Type:      row.Type,
			Timestamp: row.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z"),
			Attrs:     row.Attrs,
		}
		if err := pw.Write(out); err != nil {
			pw.WriteStop()
			return fmt.Errorf("storage: write parquet row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("storage: finalize parquet file: %w", err)
	}
	return nil
}
