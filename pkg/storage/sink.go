package storage

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"

	vkerrors "vkharvest/pkg/errors"
)

// ErrHeaderMismatch is returned when an existing file has different columns
var ErrHeaderMismatch = errors.New("csv header does not match")

// Sink is an append-only CSV file with a fixed header
type Sink struct {
	path    string
	header  []string
	file    *os.File
	writer  *csv.Writer
	written int
	mu      sync.Mutex
}

// Open prepares the CSV file at path for appending. A missing file is
// created with header; an existing file is never overwritten. A final
// row cut short by a crash is truncated away first.
func Open(path string, header []string) (*Sink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, vkerrors.Wrap(vkerrors.ErrorTypeStorage, err, "create output directory")
	}

	if err := ensureInitialized(path, header); err != nil {
		return nil, err
	}

	if err := repairTail(path, header); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, vkerrors.Wrap(vkerrors.ErrorTypeStorage, err, "open "+path)
	}

	return &Sink{
		path:   path,
		header: slices.Clone(header),
		file:   file,
		writer: csv.NewWriter(file),
	}, nil
}

// ensureInitialized writes the header to a new file via a temporary
// file and rename, so a partially created file is never observed.
func ensureInitialized(path string, header []string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return vkerrors.Wrap(vkerrors.ErrorTypeStorage, err, "stat "+path)
	}

	tempFile := path + ".tmp"
	out, err := os.Create(tempFile)
	if err != nil {
		return vkerrors.Wrap(vkerrors.ErrorTypeStorage, err, "create temporary file")
	}

	w := csv.NewWriter(out)
	_ = w.Write(header)
	w.Flush()
	err = w.Error()
	if err == nil {
		err = out.Sync()
	}
	closeErr := out.Close()

	if err != nil {
		os.Remove(tempFile)
		return vkerrors.Wrap(vkerrors.ErrorTypeStorage, err, "write header")
	}
	if closeErr != nil {
		os.Remove(tempFile)
		return vkerrors.Wrap(vkerrors.ErrorTypeStorage, closeErr, "close header file")
	}

	if err := os.Rename(tempFile, path); err != nil {
		os.Remove(tempFile)
		return vkerrors.Wrap(vkerrors.ErrorTypeStorage, err, "rename header file")
	}

	return nil
}

// repairTail checks the header and truncates a torn final record
func repairTail(path string, header []string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return vkerrors.Wrap(vkerrors.ErrorTypeStorage, err, "open "+path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return vkerrors.Wrap(vkerrors.ErrorTypeStorage, err, "stat "+path)
	}
	size := info.Size()
	if size == 0 {
		// empty file, write the header in place
		w := csv.NewWriter(f)
		_ = w.Write(header)
		w.Flush()
		if err := w.Error(); err != nil {
			return vkerrors.Wrap(vkerrors.ErrorTypeStorage, err, "write header")
		}
		return f.Sync()
	}

	endsWithNewline, err := lastByteIsNewline(f, size)
	if err != nil {
		return err
	}

	r := csv.NewReader(bufio.NewReader(f))
	r.FieldsPerRecord = len(header)
	r.ReuseRecord = true

	first, err := r.Read()
	if err != nil {
		return vkerrors.Wrap(vkerrors.ErrorTypeStorage, err, "read header of "+path)
	}
	if !slices.Equal(first, header) {
		return fmt.Errorf("%s: %w: got %v", path, ErrHeaderMismatch, first)
	}

	good := r.InputOffset()
	prevGood := good
	rows := 0
	trailingErr := false
	for {
		_, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			trailingErr = true
			continue
		}
		trailingErr = false
		prevGood = good
		good = r.InputOffset()
		rows++
	}

	cut := size
	switch {
	case trailingErr:
		cut = good
	case !endsWithNewline && rows == 0:
		// header without its line terminator
		if _, err := f.WriteAt([]byte("\n"), size); err != nil {
			return vkerrors.Wrap(vkerrors.ErrorTypeStorage, err, "terminate header")
		}
		return f.Sync()
	case !endsWithNewline:
		// the last record parsed but was never terminated
		cut = prevGood
	}
	if cut == size {
		return nil
	}

	if err := f.Truncate(cut); err != nil {
		return vkerrors.Wrap(vkerrors.ErrorTypeStorage, err, "truncate torn row")
	}
	return f.Sync()
}

func lastByteIsNewline(f *os.File, size int64) (bool, error) {
	buf := make([]byte, 1)
	if _, err := f.ReadAt(buf, size-1); err != nil {
		return false, vkerrors.Wrap(vkerrors.ErrorTypeStorage, err, "read last byte")
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return false, vkerrors.Wrap(vkerrors.ErrorTypeStorage, err, "seek")
	}
	return buf[0] == '\n', nil
}

// Append buffers one row. Rows become durable on Flush.
func (s *Sink) Append(row []string) error {
	if len(row) != len(s.header) {
		return vkerrors.New(vkerrors.ErrorTypeStorage,
			fmt.Sprintf("row has %d fields, want %d", len(row), len(s.header)))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writer.Write(row); err != nil {
		return vkerrors.Wrap(vkerrors.ErrorTypeStorage, err, "append row")
	}
	s.written++
	return nil
}

// Flush writes buffered rows and fsyncs the file
func (s *Sink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		return vkerrors.Wrap(vkerrors.ErrorTypeStorage, err, "flush rows")
	}
	if err := s.file.Sync(); err != nil {
		return vkerrors.Wrap(vkerrors.ErrorTypeStorage, err, "sync "+s.path)
	}
	return nil
}

// Close flushes and closes the file
func (s *Sink) Close() error {
	flushErr := s.Flush()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.file.Close(); err != nil && flushErr == nil {
		return vkerrors.Wrap(vkerrors.ErrorTypeStorage, err, "close "+s.path)
	}
	return flushErr
}

// Path returns the file path
func (s *Sink) Path() string {
	return s.path
}

// Written returns the number of rows appended since Open
func (s *Sink) Written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// ScanRows calls fn for every data row already in the file. Rows that
// fail to parse are skipped.
func (s *Sink) ScanRows(fn func(row []string)) error {
	return ScanFile(s.path, len(s.header), fn)
}

// ScanFile calls fn for every data row of the CSV file at path
func ScanFile(path string, fields int, fn func(row []string)) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return vkerrors.Wrap(vkerrors.ErrorTypeStorage, err, "open "+path)
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReader(f))
	r.FieldsPerRecord = fields

	header := true
	for {
		row, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				continue
			}
			return vkerrors.Wrap(vkerrors.ErrorTypeStorage, err, "scan "+path)
		}
		if header {
			header = false
			continue
		}
		fn(row)
	}
}
