package elastic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	es8 "github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esutil"
)

var DebugLog func(string, ...interface{})

type Config struct {
	URL      string
	Username string
	Password string
	Index    string
}

type Client struct {
	es    *es8.Client
	index string
}

// SampleDocument is the indexed form of one generated sample.
type SampleDocument struct {
	ID        string    `json:"-"`
	RunID     string    `json:"run_id"`
	Level     string    `json:"level"`
	Iteration int       `json:"iteration"`
	Diversity float64   `json:"diversity"`
	BeamWidth int       `json:"beam_width"`
	Prob      float64   `json:"prob"`
	Seed      string    `json:"seed"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("elasticsearch URL is required")
	}
	index := cfg.Index
	if strings.TrimSpace(index) == "" {
		index = "bookrnn_samples"
	}

	es, err := es8.NewClient(es8.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}

	res, err := es.Info()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to elasticsearch: %w", err)
	}
	res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("failed to connect to elasticsearch: %s", res.Status())
	}

	return &Client{es: es, index: index}, nil
}

func (c *Client) Index() string {
	return c.index
}

func (c *Client) newBulkIndexer() (esutil.BulkIndexer, error) {
	bi, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Client:     c.es,
		Index:      c.index,
		NumWorkers: 4,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bulk indexer: %w", err)
	}
	return bi, nil
}

// IndexSamples bulk indexes docs and fails if any document was rejected.
func (c *Client) IndexSamples(ctx context.Context, docs []SampleDocument) error {
	if len(docs) == 0 {
		return nil
	}

	bi, err := c.newBulkIndexer()
	if err != nil {
		return err
	}

	var failed atomic.Int64
	for _, doc := range docs {
		body, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to encode sample: %w", err)
		}

		item := esutil.BulkIndexerItem{
			Action:     "index",
			DocumentID: doc.ID,
			Body:       bytes.NewReader(body),
			OnFailure: func(ctx context.Context, item esutil.BulkIndexerItem, resp esutil.BulkIndexerResponseItem, err error) {
				failed.Add(1)
				if DebugLog != nil {
					if err != nil {
						DebugLog("indexing sample %s failed: %v", item.DocumentID, err)
					} else {
						DebugLog("indexing sample %s failed: %s: %s", item.DocumentID, resp.Error.Type, resp.Error.Reason)
					}
				}
			},
		}
		if err := bi.Add(ctx, item); err != nil {
			return fmt.Errorf("bulk add failed: %w", err)
		}
	}

	if err := bi.Close(ctx); err != nil {
		return fmt.Errorf("bulk indexer close failed: %w", err)
	}

	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d samples were not indexed", n, len(docs))
	}
	if DebugLog != nil {
		DebugLog("indexed %d samples into %s", bi.Stats().NumIndexed, c.index)
	}
	return nil
}

// IndexJSONLinesFile indexes every non-empty line of filename as a document.
func (c *Client) IndexJSONLinesFile(ctx context.Context, filename string) error {
	f, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to open jsonl file: %w", err)
	}
	defer f.Close()

	bi, err := c.newBulkIndexer()
	if err != nil {
		return err
	}

	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 1024*1024)
	scanner.Buffer(buf, 8*1024*1024)

	var failed atomic.Int64
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		item := esutil.BulkIndexerItem{
			Action: "index",
			Body:   strings.NewReader(line),
			OnFailure: func(ctx context.Context, item esutil.BulkIndexerItem, resp esutil.BulkIndexerResponseItem, err error) {
				failed.Add(1)
			},
		}
		if err := bi.Add(ctx, item); err != nil {
			return fmt.Errorf("bulk add failed: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanner error: %w", err)
	}

	if err := bi.Close(ctx); err != nil {
		return fmt.Errorf("bulk indexer close failed: %w", err)
	}

	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d documents from %s were not indexed", n, filename)
	}
	return nil
}

// WriteJSONLines appends docs to filename, one JSON object per line.
func WriteJSONLines(filename string, docs []SampleDocument) error {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open jsonl file: %w", err)
	}

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, doc := range docs {
		if err := enc.Encode(doc); err != nil {
			f.Close()
			return fmt.Errorf("failed to encode sample: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
