package pipeline

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"
	"github.com/apache/arrow/go/v10/arrow/memory"
	"github.com/apache/arrow/go/v10/parquet"
	"github.com/apache/arrow/go/v10/parquet/compress"
	"github.com/apache/arrow/go/v10/parquet/file"
	"github.com/apache/arrow/go/v10/parquet/pqarrow"
	"github.com/pkg/errors"

	"go-geo-enrich/internal/config"
	"go-geo-enrich/internal/model"
	"go-geo-enrich/pkg/logger"
	"go-geo-enrich/pkg/utils"
)

// ColumnTypesKey is the Parquet key-value metadata entry holding the
// JSON-encoded column name to column type map.
const ColumnTypesKey = "geoenrich.column_types"

const defaultRowGroupSize = 64 * 1024

// ExportOptions controls the columnar writer
type ExportOptions struct {
	Compression  string // snappy, gzip, zstd, brotli, none
	RowGroupSize int64
}

// ExportOptionsFromConfig converts the export section of the config
func ExportOptionsFromConfig(c config.ExportConfig) ExportOptions {
	return ExportOptions{Compression: c.Compression, RowGroupSize: c.RowGroupSize}
}

// RoundTripResult compares the delimited input with its columnar copy
type RoundTripResult struct {
	Write    model.ExportResult `json:"write"`
	Read     model.ExportResult `json:"read"`
	CSVBytes int64              `json:"csv_bytes"`
	Ratio    float64            `json:"ratio"` // parquet bytes / csv bytes
	Table    *model.Table       `json:"-"`
}

func compressionCodec(name string) (compress.Compression, error) {
	switch strings.ToLower(name) {
	case "", "snappy":
		return compress.Codecs.Snappy, nil
	case "gzip":
		return compress.Codecs.Gzip, nil
	case "zstd":
		return compress.Codecs.Zstd, nil
	case "brotli":
		return compress.Codecs.Brotli, nil
	case "none", "uncompressed":
		return compress.Codecs.Uncompressed, nil
	}
	return compress.Codecs.Uncompressed, fmt.Errorf("unsupported compression: %s", name)
}

func arrowType(t model.ColumnType) arrow.DataType {
	switch t {
	case model.TypeInt:
		return arrow.PrimitiveTypes.Int64
	case model.TypeFloat:
		return arrow.PrimitiveTypes.Float64
	case model.TypeDatetime:
		return &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}
	default:
		return arrow.BinaryTypes.String
	}
}

// buildArray converts one column into an Arrow array
func buildArray(mem memory.Allocator, col *model.Column) (arrow.Array, error) {
	bad := func(i int) error {
		return errors.Errorf("column %s row %d: %T is not a %s value", col.Name, i, col.Values[i], col.Type)
	}

	switch col.Type {
	case model.TypeInt:
		b := array.NewInt64Builder(mem)
		defer b.Release()
		for i, v := range col.Values {
			if v == nil {
				b.AppendNull()
				continue
			}
			n, ok := v.(int64)
			if !ok {
				return nil, bad(i)
			}
			b.Append(n)
		}
		return b.NewArray(), nil
	case model.TypeFloat:
		b := array.NewFloat64Builder(mem)
		defer b.Release()
		for i := range col.Values {
			if col.IsNull(i) {
				b.AppendNull()
				continue
			}
			f, ok := col.Float(i)
			if !ok {
				return nil, bad(i)
			}
			b.Append(f)
		}
		return b.NewArray(), nil
	case model.TypeDatetime:
		b := array.NewTimestampBuilder(mem, arrowType(col.Type).(*arrow.TimestampType))
		defer b.Release()
		for i := range col.Values {
			if col.IsNull(i) {
				b.AppendNull()
				continue
			}
			ts, ok := col.Time(i)
			if !ok {
				return nil, bad(i)
			}
			b.Append(arrow.Timestamp(ts.UnixMicro()))
		}
		return b.NewArray(), nil
	default:
		b := array.NewStringBuilder(mem)
		defer b.Release()
		for i := range col.Values {
			if col.IsNull(i) {
				b.AppendNull()
				continue
			}
			s, ok := col.String(i)
			if !ok {
				return nil, bad(i)
			}
			b.Append(s)
		}
		return b.NewArray(), nil
	}
}

// WriteParquet writes the table to a Parquet file at path
func WriteParquet(ctx context.Context, t *model.Table, path string, opts ExportOptions) (model.ExportResult, error) {
	start := time.Now()
	result := model.ExportResult{Type: "parquet", Path: path, Timestamp: start}
	fail := func(err error) (model.ExportResult, error) {
		result.Error = err.Error()
		result.Duration = time.Since(start)
		logger.Named("export").Error(ctx, "❌ Parquet export failed", logger.String("path", path), logger.Error(err))
		return result, err
	}

	codec, err := compressionCodec(opts.Compression)
	if err != nil {
		return fail(err)
	}
	rowGroupSize := opts.RowGroupSize
	if rowGroupSize <= 0 {
		rowGroupSize = defaultRowGroupSize
	}

	mem := memory.NewGoAllocator()
	fields := make([]arrow.Field, 0, len(t.Columns()))
	arrays := make([]arrow.Array, 0, len(t.Columns()))
	types := make(map[string]model.ColumnType, len(t.Columns()))
	defer func() {
		for _, a := range arrays {
			a.Release()
		}
	}()
	for _, col := range t.Columns() {
		arr, err := buildArray(mem, col)
		if err != nil {
			return fail(err)
		}
		arrays = append(arrays, arr)
		fields = append(fields, arrow.Field{Name: col.Name, Type: arrowType(col.Type), Nullable: true})
		types[col.Name] = col.Type
	}

	typesJSON, err := json.Marshal(types)
	if err != nil {
		return fail(err)
	}
	md := arrow.NewMetadata([]string{ColumnTypesKey}, []string{string(typesJSON)})
	schema := arrow.NewSchema(fields, &md)

	rec := array.NewRecord(schema, arrays, int64(t.NumRows()))
	defer rec.Release()
	tbl := array.NewTableFromRecords(schema, []arrow.Record{rec})
	defer tbl.Release()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fail(errors.Wrap(err, "failed to create directory"))
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fail(errors.Wrap(err, "failed to create file"))
	}
	defer f.Close()

	props := parquet.NewWriterProperties(
		parquet.WithCompression(codec),
		parquet.WithDictionaryDefault(true),
	)
	if err := pqarrow.WriteTable(tbl, f, rowGroupSize, props, pqarrow.DefaultWriterProps()); err != nil {
		return fail(errors.Wrapf(err, "writing %s", path))
	}

	info, err := os.Stat(path)
	if err != nil {
		return fail(err)
	}
	result.Bytes = info.Size()
	result.RecordCount = t.NumRows()
	result.Duration = time.Since(start)
	result.Success = true
	logger.Named("export").Info(ctx, "✅ Parquet export successful",
		logger.String("path", path),
		logger.Int("records", result.RecordCount),
		logger.Int64("bytes", result.Bytes),
		logger.Duration("took", result.Duration))
	return result, nil
}

// ReadParquet reads a Parquet file into a table. Column types come from
// the file's metadata when present and are inferred otherwise.
func ReadParquet(ctx context.Context, path string) (*model.Table, error) {
	t, _, err := readParquet(ctx, path)
	return t, err
}

func readParquet(ctx context.Context, path string) (*model.Table, model.ExportResult, error) {
	start := time.Now()
	result := model.ExportResult{Type: "parquet", Path: path, Timestamp: start}

	f, err := os.Open(path)
	if err != nil {
		return nil, result, errors.Wrap(err, "failed to open Parquet file")
	}
	defer f.Close()

	pf, err := file.NewParquetReader(f)
	if err != nil {
		return nil, result, errors.Wrapf(err, "reading %s", path)
	}
	defer pf.Close()

	types := make(map[string]model.ColumnType)
	if v := pf.MetaData().KeyValueMetadata().FindValue(ColumnTypesKey); v != nil {
		if err := json.Unmarshal([]byte(*v), &types); err != nil {
			return nil, result, errors.Wrap(err, "decoding column types")
		}
	}

	mem := memory.NewGoAllocator()
	reader, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, mem)
	if err != nil {
		return nil, result, err
	}
	tbl, err := reader.ReadTable(ctx)
	if err != nil {
		return nil, result, errors.Wrapf(err, "reading %s", path)
	}
	defer tbl.Release()

	n := int(tbl.NumRows())
	schema := tbl.Schema()
	columns := make([]*model.Column, 0, int(tbl.NumCols()))
	for i := 0; i < int(tbl.NumCols()); i++ {
		field := schema.Field(i)
		typ, ok := types[field.Name]
		if !ok {
			if typ, err = inferColumnType(field.Type); err != nil {
				return nil, result, errors.Wrapf(err, "column %s", field.Name)
			}
		}
		col := model.NewColumn(field.Name, typ, n)
		for _, chunk := range tbl.Column(i).Data().Chunks() {
			if err := appendChunk(col, chunk); err != nil {
				return nil, result, err
			}
		}
		columns = append(columns, col)
	}

	t, err := model.NewTable(columns...)
	if err != nil {
		return nil, result, err
	}
	result.RecordCount = t.NumRows()
	if info, err := os.Stat(path); err == nil {
		result.Bytes = info.Size()
	}
	result.Duration = time.Since(start)
	result.Success = true
	logger.Named("export").Info(ctx, "📥 Parquet read back",
		logger.String("path", path),
		logger.Int("records", result.RecordCount),
		logger.Duration("took", result.Duration))
	return t, result, nil
}

func inferColumnType(dt arrow.DataType) (model.ColumnType, error) {
	switch dt.ID() {
	case arrow.STRING, arrow.LARGE_STRING:
		return model.TypeString, nil
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64:
		return model.TypeInt, nil
	case arrow.FLOAT32, arrow.FLOAT64:
		return model.TypeFloat, nil
	case arrow.TIMESTAMP:
		return model.TypeDatetime, nil
	}
	return "", fmt.Errorf("unsupported arrow type %s", dt)
}

func appendChunk(col *model.Column, chunk arrow.Array) error {
	for j := 0; j < chunk.Len(); j++ {
		if chunk.IsNull(j) {
			col.Values = append(col.Values, nil)
			continue
		}
		var v interface{}
		switch a := chunk.(type) {
		case *array.String:
			v = a.Value(j)
		case *array.LargeString:
			v = a.Value(j)
		case *array.Int64:
			v = a.Value(j)
		case *array.Int32:
			v = int64(a.Value(j))
		case *array.Int16:
			v = int64(a.Value(j))
		case *array.Int8:
			v = int64(a.Value(j))
		case *array.Float64:
			v = a.Value(j)
		case *array.Float32:
			v = float64(a.Value(j))
		case *array.Timestamp:
			v = timestampToTime(int64(a.Value(j)), a.DataType().(*arrow.TimestampType).Unit)
		default:
			return errors.Errorf("column %s: unsupported arrow array %T", col.Name, chunk)
		}
		col.Values = append(col.Values, v)
	}
	return nil
}

func timestampToTime(v int64, unit arrow.TimeUnit) time.Time {
	switch unit {
	case arrow.Second:
		return time.Unix(v, 0).UTC()
	case arrow.Millisecond:
		return time.UnixMilli(v).UTC()
	case arrow.Nanosecond:
		return time.Unix(0, v).UTC()
	default:
		return time.UnixMicro(v).UTC()
	}
}

// WriteCSV writes the table as comma-separated text with a header row.
// Missing values are written as empty fields, datetimes as RFC 3339.
func WriteCSV(ctx context.Context, t *model.Table, path string) (model.ExportResult, error) {
	start := time.Now()
	result := model.ExportResult{Type: "csv", Path: path, Timestamp: start}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return result, errors.Wrap(err, "failed to create directory")
		}
	}
	out, err := os.Create(path)
	if err != nil {
		return result, errors.Wrap(err, "failed to create file")
	}
	defer out.Close()

	writer := csv.NewWriter(out)
	if err := writer.Write(t.ColumnNames()); err != nil {
		return result, errors.Wrap(err, "failed to write header")
	}

	row := make([]string, len(t.Columns()))
	for i := 0; i < t.NumRows(); i++ {
		for j, col := range t.Columns() {
			row[j] = formatValue(col.Values[i])
		}
		if err := writer.Write(row); err != nil {
			return result, errors.Wrap(err, "failed to write row")
		}
		result.RecordCount++
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return result, err
	}

	if info, err := out.Stat(); err == nil {
		result.Bytes = info.Size()
	}
	result.Duration = time.Since(start)
	result.Success = true
	logger.Named("export").Info(ctx, "✅ CSV export successful",
		logger.String("path", path), logger.Int("records", result.RecordCount))
	return result, nil
}

func formatValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", x)
	}
}

// ExportTable writes the table in the format implied by the file extension:
// ".csv" writes text, anything else Parquet.
func ExportTable(ctx context.Context, t *model.Table, path string, opts ExportOptions) (model.ExportResult, error) {
	om := utils.NewOutputManager("")
	if om.GetFileType(path) == "csv" {
		return WriteCSV(ctx, t, path)
	}
	return WriteParquet(ctx, t, path, opts)
}

// RoundTrip writes the table to path, reads it back and checks that the
// row count and column names survived. csvPath, when set, is the original
// delimited file used for the size comparison.
func RoundTrip(ctx context.Context, t *model.Table, path, csvPath string, opts ExportOptions) (*RoundTripResult, error) {
	write, err := WriteParquet(ctx, t, path, opts)
	if err != nil {
		return nil, err
	}
	back, read, err := readParquet(ctx, path)
	if err != nil {
		return nil, err
	}

	if back.NumRows() != t.NumRows() {
		return nil, errors.Errorf("round trip: wrote %d rows, read %d", t.NumRows(), back.NumRows())
	}
	want, got := t.ColumnNames(), back.ColumnNames()
	if strings.Join(want, ",") != strings.Join(got, ",") {
		return nil, errors.Errorf("round trip: columns %v became %v", want, got)
	}

	result := &RoundTripResult{Write: write, Read: read, Table: back}
	if csvPath != "" && !strings.Contains(csvPath, "://") {
		if info, err := os.Stat(csvPath); err == nil {
			result.CSVBytes = info.Size()
		}
	}
	if result.CSVBytes > 0 {
		result.Ratio = float64(write.Bytes) / float64(result.CSVBytes)
	}
	logger.Named("export").Info(ctx, "💾 format comparison",
		logger.Int64("csv_bytes", result.CSVBytes),
		logger.Int64("parquet_bytes", write.Bytes),
		logger.Float64("ratio", result.Ratio),
		logger.Duration("write", write.Duration),
		logger.Duration("read", read.Duration))
	return result, nil
}
