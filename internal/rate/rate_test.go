package rate

import "testing"

func TestAt_StaticRates(t *testing.T) {
	m := Model{UploadRate: 100, DownloadRate: 0}
	r := m.At(10)
	if r.UploadBytesPerSec != 100*1024 {
		t.Fatalf("UploadBytesPerSec = %v, want %v", r.UploadBytesPerSec, 100*1024)
	}
	if r.DownloadBytesPerSec != 0 {
		t.Fatalf("DownloadBytesPerSec = %v, want 0", r.DownloadBytesPerSec)
	}
}

func TestAt_ProgressiveEndpoints(t *testing.T) {
	m := Model{
		UploadRate:          10,
		TargetUploadRate:    100,
		DownloadRate:        0,
		TargetDownloadRate:  50,
		Progressive:         true,
		ProgressiveDuration: 60,
	}

	start := m.At(0)
	if start.UploadBytesPerSec != 10*1024 {
		t.Fatalf("t=0 upload = %v, want %v", start.UploadBytesPerSec, 10*1024)
	}

	end := m.At(120)
	if end.UploadBytesPerSec != 100*1024 {
		t.Fatalf(
			"t>=duration upload = %v, want clamped %v",
			end.UploadBytesPerSec,
			100*1024,
		)
	}

	mid := m.At(30)
	wantMid := 55 * 1024.0
	if mid.UploadBytesPerSec != wantMid {
		t.Fatalf("t=30 upload = %v, want %v", mid.UploadBytesPerSec, wantMid)
	}
}

func TestAt_RandomizeStaysWithinBand(t *testing.T) {
	m := Model{
		UploadRate:         100,
		Randomize:          true,
		RandomRangePercent: 10,
	}

	lo := 90 * 1024.0
	hi := 110 * 1024.0
	for i := 0; i < 200; i++ {
		r := m.At(1)
		if r.UploadBytesPerSec < lo || r.UploadBytesPerSec > hi {
			t.Fatalf(
				"jittered rate %v outside [%v, %v]",
				r.UploadBytesPerSec,
				lo,
				hi,
			)
		}
	}
}
