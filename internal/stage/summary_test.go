package stage

import (
	"testing"

	"github.com/joseph-ayodele/receipts-pipeline/constants"
)

func TestSummarize(t *testing.T) {
	root := t.TempDir()
	stageFile(t, root, constants.DirReceiptFiles, "2025-07-21", "a.json", "{}")
	stageFile(t, root, constants.DirReceiptFiles, "2025-07-22", "b.json", "{}")
	stageFile(t, root, constants.DirReceiptFiles, "2025-07-22", ".b.json.123.tmp", "")
	stageFile(t, root, constants.DirReceiptChecked, "2025-07-22", "c.json", "{}")

	sum, err := Summarize(root, constants.StageClassify)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if sum.Input.Total != 2 || len(sum.Input.Partitions) != 2 {
		t.Fatalf("input = %+v", sum.Input)
	}
	if len(sum.Outputs) != 2 || sum.Outputs[0].Total != 0 || sum.Outputs[1].Total != 1 {
		t.Fatalf("outputs = %+v", sum.Outputs)
	}
	if _, err := Summarize(root, "nope"); err == nil {
		t.Fatal("unknown stage should fail")
	}
}
