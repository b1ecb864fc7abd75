// Package fetchlog keeps a daily JSONL journal of completed stock fetches.
package fetchlog

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"stock-analysis-fetcher/internal/types"
)

var mu sync.Mutex

var ist = time.FixedZone("IST", 19800)

// Entry is one journal line.
type Entry struct {
	Time       string            `json:"time"`
	Symbol     string            `json:"symbol"`
	Exchange   string            `json:"exchange"`
	Success    bool              `json:"success"`
	StockPage  bool              `json:"stockPage"`
	Successful []string          `json:"successful"`
	Failed     map[string]string `json:"failed,omitempty"`
	Retried    []string          `json:"retried,omitempty"`
	ErrorCode  string            `json:"errorCode,omitempty"`
	DurationMs int64             `json:"durationMs"`
}

// FromReport condenses a report; Failed maps endpoint key to error kind.
func FromReport(r types.StockReport, elapsed time.Duration) Entry {
	e := Entry{
		Symbol:     r.Symbol,
		Exchange:   r.Exchange,
		Success:    r.Success,
		Successful: []string{},
		DurationMs: elapsed.Milliseconds(),
	}
	if r.StockPage != nil {
		e.StockPage = r.StockPage.IsSuccess()
		if r.StockPage.Retried {
			e.Retried = append(e.Retried, r.StockPage.EndpointKey)
		}
	}
	if r.APIData != nil {
		for _, res := range r.APIData.Results() {
			if res.Retried {
				e.Retried = append(e.Retried, res.EndpointKey)
			}
			if res.IsSuccess() {
				e.Successful = append(e.Successful, res.EndpointKey)
				continue
			}
			if e.Failed == nil {
				e.Failed = make(map[string]string)
			}
			kind := ""
			if res.Error != nil {
				kind = string(res.Error.Kind)
			}
			e.Failed[res.EndpointKey] = kind
		}
	}
	if r.Error != nil {
		e.ErrorCode = r.Error.Code
	}
	return e
}

func logDir() string {
	if v := os.Getenv("FETCHER_LOG_DIR"); v != "" {
		return v
	}
	return "logs"
}

func dailyFilepath(t time.Time) string {
	return filepath.Join(logDir(), "fetches", t.In(ist).Format("2006-01-02")+".jsonl")
}

// Append stamps e with the current IST time and appends it to today's file.
func Append(e Entry) error {
	mu.Lock()
	defer mu.Unlock()

	now := time.Now().In(ist)
	e.Time = now.Format("2006-01-02 15:04:05")
	p := dailyFilepath(now)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode journal entry: %w", err)
	}
	_, err = fmt.Fprintln(f, string(b))
	return err
}

// CompressOlder gzips journal files not modified within retentionDays.
// Files that fail to compress are left in place.
func CompressOlder(retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	mu.Lock()
	defer mu.Unlock()

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	return filepath.WalkDir(logDir(), func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(p) != ".jsonl" {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			return nil
		}
		gz := p + ".gz"
		if _, err := os.Stat(gz); err == nil {
			_ = os.Remove(p)
			return nil
		}
		if err := gzipFile(p, gz); err != nil {
			_ = os.Remove(gz)
			return nil
		}
		_ = os.Remove(p)
		return nil
	})
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	gw := gzip.NewWriter(out)
	if _, err := io.Copy(gw, in); err != nil {
		gw.Close()
		out.Close()
		return err
	}
	if err := gw.Close(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
