package common

import "testing"

func TestConstantsValues(t *testing.T) {
	if ContentTypeJSON != "application/json" {
		t.Fatalf("ContentTypeJSON = %q", ContentTypeJSON)
	}
	if DefaultQueueCapacity <= 0 || DefaultWorkerCount <= 0 {
		t.Fatalf("defaults should be positive")
	}
	if MimeImagePNG != "image/png" || MimeImageJPEG != "image/jpeg" || MimeImageJPG != "image/jpg" {
		t.Fatalf("mime constants mismatch")
	}
	if OutputsDirName == "" || VolumeDirName == "" {
		t.Fatalf("dir names should be non-empty")
	}
}

func TestProgressBands(t *testing.T) {
	if ProgressIntakeSingle >= ProgressIntakeMulti {
		t.Fatalf("single-page intake should report below multi-page intake")
	}
	if OCRBandStart != ProgressIntakeMulti {
		t.Fatalf("ocr band should start where intake ends")
	}
	if OCRBandCap >= OCRBandEnd {
		t.Fatalf("in-flight cap must stay below the band end")
	}
	if ProgressFinalize != OCRBandEnd {
		t.Fatalf("finalize should pick up at the ocr band end")
	}
	if ProgressComplete != 100 {
		t.Fatalf("complete = %d", ProgressComplete)
	}
}
