package stage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
	"github.com/joseph-ayodele/receipts-pipeline/internal/partition"
)

// StageDirs names each stage's input directory followed by its outputs.
var StageDirs = map[string][]string{
	constants.StageClassify: {constants.DirReceiptFiles, constants.DirReceiptOCRing, constants.DirReceiptChecked},
	constants.StageDownload: {constants.DirReceiptOCRing, constants.DirDownloaded},
	constants.StageOCR:      {constants.DirDownloaded, constants.DirOCRText},
	constants.StageTimezone: {constants.DirMatchedNonDelivery, constants.DirConvertedTZ},
	constants.StageIngest:   {constants.DirConvertedTZ, constants.DirInsertedToDatabase},
}

// DirSummary counts files per partition of one stage directory.
type DirSummary struct {
	Dir        string
	Partitions []PartitionCount
	Total      int
}

type PartitionCount struct {
	Name  string
	Files int
}

// Summary describes a stage's input and output directories.
type Summary struct {
	Stage   string
	Input   DirSummary
	Outputs []DirSummary
}

// Summarize counts the files in every partition a stage reads or writes.
func Summarize(root, stageName string) (Summary, error) {
	dirs, ok := StageDirs[stageName]
	if !ok {
		return Summary{}, fmt.Errorf("unknown stage %q", stageName)
	}
	sum := Summary{Stage: stageName}
	for i, d := range dirs {
		ds, err := summarizeDir(filepath.Join(root, d))
		if err != nil {
			return Summary{}, err
		}
		ds.Dir = d
		if i == 0 {
			sum.Input = ds
		} else {
			sum.Outputs = append(sum.Outputs, ds)
		}
	}
	return sum, nil
}

func summarizeDir(dir string) (DirSummary, error) {
	var ds DirSummary
	parts, err := partition.ListPartitions(dir)
	if err != nil {
		return ds, err
	}
	for _, p := range parts {
		entries, err := os.ReadDir(p.Path)
		if err != nil {
			return ds, fmt.Errorf("read %s: %w", p.Path, err)
		}
		n := 0
		for _, e := range entries {
			if e.Type().IsRegular() && !strings.HasPrefix(e.Name(), ".") {
				n++
			}
		}
		ds.Partitions = append(ds.Partitions, PartitionCount{Name: p.Name, Files: n})
		ds.Total += n
	}
	return ds, nil
}
