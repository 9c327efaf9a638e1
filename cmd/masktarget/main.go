package main

import (
	"flag"
	"fmt"
	"image/png"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-masktarget/common"
	"github.com/nvr-ai/go-masktarget/images"
	"github.com/nvr-ai/go-masktarget/models"
	"github.com/nvr-ai/go-masktarget/models/target"
	"github.com/nvr-ai/go-masktarget/profiler"
	"github.com/nvr-ai/go-masktarget/util"
)

const (
	// DefaultConcurrency is the number of images computed at once.
	DefaultConcurrency = 4
	// DefaultSeed seeds the first image; image i uses seed+i.
	DefaultSeed = 1
)

func main() {
	var (
		configPath  string
		labelSet    string
		inputPath   string
		dumpDir     string
		seed        uint64
		concurrency int
		debug       bool
		report      bool
	)
	flag.StringVar(&configPath, "config", "", "Path to a YAML config (defaults are used when empty)")
	flag.StringVar(&inputPath, "input", "", "Annotation file or directory of sample-<n>.json files")
	flag.StringVar(&labelSet, "labels", "", "Class label set used to name dumped masks (coco, voc)")
	flag.StringVar(&dumpDir, "dump", "", "Directory to write foreground masks as PNG")
	flag.Uint64Var(&seed, "seed", DefaultSeed, "Base sampling seed")
	flag.IntVar(&concurrency, "concurrency", DefaultConcurrency, "Images computed concurrently")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&report, "report", false, "Print a timing report at the end")
	flag.Parse()

	if inputPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	config, err := loadConfig(configPath)
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}
	log.Printf("📋 Config: %d regions (%d fg), %dx%d masks, %d classes",
		config.RoisPerImage, config.FgRoisPerImage, config.MaskSize, config.MaskSize, config.NumClasses)

	var labels *models.LabelSet
	if labelSet != "" {
		if labels, err = models.LookupLabelSet(labelSet); err != nil {
			log.Fatalf("❌ %v", err)
		}
		if labels.NumClasses() != config.NumClasses {
			log.Printf("⚠️ Label set %s has %d classes, config has %d", labels.Name, labels.NumClasses(), config.NumClasses)
		}
	}

	samples, err := loadSamples(inputPath)
	if err != nil {
		log.Fatalf("❌ Failed to load samples: %v", err)
	}
	if len(samples) == 0 {
		log.Fatalf("❌ No samples found in %s", inputPath)
	}

	computer, err := target.NewComputer(config)
	if err != nil {
		log.Fatalf("❌ Failed to create computer: %v", err)
	}
	computer.SetDebugMode(debug)

	prof := profiler.NewProfiler()
	items := make([]target.Item, len(samples))
	for i, s := range samples {
		items[i] = target.Item{Inputs: s.Inputs(), Outputs: target.NewOutputs(config), Seed: seed + uint64(i)}
	}

	done := prof.StartOperation("batch")
	results, err := computer.BatchCompute(items, concurrency)
	done()
	if err != nil {
		log.Fatalf("❌ Target generation failed: %v", err)
	}

	for i, result := range results {
		log.Printf("✅ %s: %s", filepath.Base(samples[i].Path), result)
		prof.RecordMetric("fg", float64(result.FgCount))
		prof.RecordMetric("bg", float64(result.BgCount))
		prof.RecordMetric("pad", float64(result.PadCount))
	}

	if dumpDir != "" {
		done := prof.StartOperation("dump")
		for i, item := range items {
			n, err := dumpMasks(dumpDir, samples[i], item.Outputs, results[i], config, labels)
			if err != nil {
				log.Printf("⚠️ Failed to dump masks for %s: %v", samples[i].Path, err)
				continue
			}
			log.Printf("💾 Wrote %d masks for %s", n, filepath.Base(samples[i].Path))
		}
		done()
	}

	if report {
		prof.Report(os.Stdout)
	}
}

func loadConfig(path string) (target.Config, error) {
	if path == "" {
		return target.DefaultConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return target.Config{}, err
	}
	return target.ParseConfig(data)
}

func loadSamples(path string) ([]*util.SampleFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return util.LoadDirectorySampleFiles(path)
	}
	sample, err := util.LoadSampleFile(path)
	if err != nil {
		return nil, err
	}
	return []*util.SampleFile{sample}, nil
}

// dumpMasks pastes every foreground mask back into image coordinates and
// writes it as a PNG.
func dumpMasks(dir string, sample *util.SampleFile, out *target.Outputs, result *target.Result, config target.Config, labels *models.LabelSet) (int, error) {
	if sample.Width <= 0 || sample.Height <= 0 {
		return 0, errors.Errorf("sample has no image size (%dx%d)", sample.Width, sample.Height)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}

	masks, err := common.Float32s(out.MaskTargets)
	if err != nil {
		return 0, err
	}
	rois, err := common.ParseProposals(out.Rois)
	if err != nil {
		return 0, err
	}

	size := config.MaskSize
	stride := config.NumClasses * size * size
	base := filepath.Base(sample.Path)
	base = base[:len(base)-len(filepath.Ext(base))]

	for i, region := range result.Regions[:result.FgCount] {
		offset := i*stride + region.MaskClass*size*size
		img := images.PasteMask(masks[offset:offset+size*size], size, rois[i], sample.Width, sample.Height)

		name := fmt.Sprintf("%s_roi%03d_class%d.png", base, i, region.MaskClass)
		if labels != nil {
			name = fmt.Sprintf("%s_roi%03d_%s.png", base, i, strings.ReplaceAll(labels.Label(region.MaskClass), " ", "_"))
		}
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			return i, err
		}
		if err := png.Encode(f, img); err != nil {
			f.Close()
			return i, err
		}
		if err := f.Close(); err != nil {
			return i, err
		}
	}

	return result.FgCount, nil
}
