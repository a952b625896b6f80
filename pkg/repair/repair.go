// Package repair fixes CSV dumps whose header row was repeated on every
// flush by older loaders.
package repair

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/egeatmaca/bgp-analytics-engine/pkg/logging"
	"github.com/egeatmaca/bgp-analytics-engine/pkg/models"
)

// Result counts the lines of one repaired file
type Result struct {
	Lines   int
	Dropped int
}

// Fix copies in to out, dropping every header row after the first line.
func Fix(in io.Reader, out io.Writer) (Result, error) {
	header := strings.Join(models.FieldNames(), ",")
	r := bufio.NewReader(in)
	w := bufio.NewWriter(out)

	var res Result
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			if res.Lines > 0 && strings.TrimRight(line, "\r\n") == header {
				res.Dropped++
			} else {
				if _, werr := w.WriteString(line); werr != nil {
					return res, werr
				}
				res.Lines++
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, err
		}
	}
	return res, w.Flush()
}

// FixFile writes the repaired copy of src into dstDir under the same name
func FixFile(src, dstDir string) (Result, error) {
	in, err := os.Open(src)
	if err != nil {
		return Result{}, fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	dst := filepath.Join(dstDir, filepath.Base(src))
	if filepath.Clean(dst) == filepath.Clean(src) {
		return Result{}, fmt.Errorf("refusing to overwrite %s in place", src)
	}
	out, err := os.Create(dst)
	if err != nil {
		return Result{}, fmt.Errorf("failed to create %s: %w", dst, err)
	}

	res, err := Fix(in, out)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return res, fmt.Errorf("failed to repair %s: %w", src, err)
	}
	return res, nil
}

// FixDir repairs every *.csv file of srcDir into dstDir
func FixDir(srcDir, dstDir string, log *logrus.Entry) (map[string]Result, error) {
	log = logging.OrDefault(log)
	files, err := filepath.Glob(filepath.Join(srcDir, "*.csv"))
	if err != nil {
		return nil, err
	}
	slices.Sort(files)

	if err := os.MkdirAll(dstDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	results := make(map[string]Result, len(files))
	for _, f := range files {
		res, err := FixFile(f, dstDir)
		if err != nil {
			return results, err
		}
		results[f] = res

		entry := log.WithFields(logrus.Fields{"file": f, "lines": res.Lines})
		if res.Dropped > 0 {
			entry.WithField("dropped", res.Dropped).Warn("header rows removed")
		} else {
			entry.Info("file copied")
		}
	}
	return results, nil
}
