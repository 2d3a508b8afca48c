package gratsample

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/civilservant/gratsample/internal/storage"
	"github.com/civilservant/gratsample/internal/table"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"
)

// Datasets.
const (
	Thankees = "thankee"
	Thankers = "thanker"
)

// OutputName is the file name of a dataset for the run parameters.
func (p Params) OutputName(dataset string) string {
	name := fmt.Sprintf("%s_power_analysis_data_for_sim_treatment_%s", dataset, p.Treatment.Format("20060102"))
	if p.Subsample > 0 {
		name += fmt.Sprintf("_%d_subsamples", p.Subsample)
	}
	return name + ".csv"
}

// Emit writes t as CSV to the output directory, next to a JSON manifest
// describing the run, and uploads both when an output storage is set. It
// returns the path of the CSV file.
func (s *Sampler) Emit(ctx context.Context, dataset string, t *table.Table) (string, error) {
	name := s.params.OutputName(dataset)
	var buf bytes.Buffer
	if err := t.WriteCSV(&buf); err != nil {
		return "", fmt.Errorf("emit %s: %w", name, err)
	}
	manifest, err := s.manifest(dataset, t)
	if err != nil {
		return "", fmt.Errorf("emit %s: %w", name, err)
	}
	if err := s.write(ctx, name, buf.Bytes()); err != nil {
		return "", err
	}
	if err := s.write(ctx, name+".manifest.json", manifest); err != nil {
		return "", err
	}
	path := filepath.Join(s.params.OutputDir, name)
	s.logger.Info("dataset written", zap.String("dataset", dataset), zap.String("path", path), zap.Int("rows", t.Len()))
	return path, nil
}

// emitBinStats writes the number of users per stratum.
func (s *Sampler) emitBinStats(ctx context.Context, t *table.Table) error {
	stats, err := BinStats(t)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := stats.WriteCSV(&buf); err != nil {
		return err
	}
	return s.write(ctx, "bin_stats_"+s.params.Treatment.Format("20060102")+".csv", buf.Bytes())
}

// write stores an output file locally and, if configured, remotely.
func (s *Sampler) write(ctx context.Context, name string, data []byte) error {
	local, err := storage.NewFileStorage(storage.FileConfig{BasePath: s.params.OutputDir})
	if err != nil {
		return fmt.Errorf("output dir: %w", err)
	}
	if err := local.Put(ctx, name, data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if s.outputs != nil {
		key := storage.MakeKey("outputs", name)
		if err := s.outputs.Put(ctx, key, data); err != nil {
			return fmt.Errorf("upload %s to %s: %w", name, s.outputs.Name(), err)
		}
		s.logger.Info("output uploaded", zap.String("key", key), zap.String("storage", s.outputs.Name()))
	}
	return nil
}

func (s *Sampler) manifest(dataset string, t *table.Table) ([]byte, error) {
	doc := []byte(`{}`)
	var err error
	set := func(path string, v any) {
		if err == nil {
			doc, err = sjson.SetBytes(doc, path, v)
		}
	}
	set("run_id", s.runID)
	set("dataset", dataset)
	set("created", time.Now().UTC().Format(time.RFC3339))
	set("treatment", s.params.Treatment.Format("2006-01-02"))
	set("langs", s.params.Langs)
	set("subsample", s.params.Subsample)
	set("seed", s.params.Seed)
	set("rows", t.Len())
	set("columns", t.Names())
	set("fingerprint", fmt.Sprintf("%016x", t.Fingerprint()))
	if s.stat != nil {
		snap := s.stat.Snapshot()
		namespaces := make([]string, 0, len(snap))
		for ns := range snap {
			namespaces = append(namespaces, ns)
		}
		sort.Strings(namespaces)
		for _, ns := range namespaces {
			set("cache."+ns+".hits", snap[ns].Hits)
			set("cache."+ns+".misses", snap[ns].Misses)
		}
	}
	return doc, err
}
