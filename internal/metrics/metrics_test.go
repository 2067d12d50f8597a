package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/iconidentify/clipgrab/internal/domain"
	"github.com/iconidentify/clipgrab/internal/registry"
)

func TestRecordDownload(t *testing.T) {
	success := downloadsTotal.WithLabelValues("tiktok", "video", "success")
	failed := downloadsTotal.WithLabelValues("tiktok", "video", "failed")
	beforeOK := testutil.ToFloat64(success)
	beforeFail := testutil.ToFloat64(failed)

	RecordDownload(domain.PlatformTikTok, domain.ContentVideo, true, 3*time.Second, 1<<20)
	RecordDownload(domain.PlatformTikTok, domain.ContentVideo, false, 0, 0)

	if got := testutil.ToFloat64(success) - beforeOK; got != 1 {
		t.Errorf("success delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(failed) - beforeFail; got != 1 {
		t.Errorf("failed delta = %v, want 1", got)
	}
}

func TestHostedFilesObserver(t *testing.T) {
	var obs registry.Observer = HostedFiles{}
	entry := domain.FileEntry{FileSize: 1000, ContentType: domain.ContentVideo}

	files := testutil.ToFloat64(hostedFiles)
	bytes := testutil.ToFloat64(hostedBytes)

	obs.OnFileEvent(registry.EventRegistered, entry)
	if got := testutil.ToFloat64(hostedFiles) - files; got != 1 {
		t.Errorf("hosted files delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(hostedBytes) - bytes; got != 1000 {
		t.Errorf("hosted bytes delta = %v, want 1000", got)
	}

	obs.OnFileEvent(registry.EventConsumed, entry)
	entry.Consumed = true
	obs.OnFileEvent(registry.EventExpired, entry)

	if got := testutil.ToFloat64(hostedFiles) - files; got != 0 {
		t.Errorf("hosted files delta after expiry = %v, want 0", got)
	}
	if got := testutil.ToFloat64(hostedBytes) - bytes; got != 0 {
		t.Errorf("hosted bytes delta after expiry = %v, want 0", got)
	}
}

func TestErrorType(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "none"},
		{domain.ErrMetadataTimeout, "metadata_timeout"},
		{fmt.Errorf("wrap: %w", domain.ErrCancelled), "cancelled"},
		{context.Canceled, "cancelled"},
		{domain.NewDownloadError(domain.PlatformYouTube, "download", domain.ErrNoOutput), "download_failed"},
		{domain.ErrTooLarge, "too_large"},
		{errors.New("boom"), "other"},
	}

	for _, tt := range tests {
		if got := ErrorType(tt.err); got != tt.want {
			t.Errorf("ErrorType(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

type fakePool struct{ busy, queued int }

func (p fakePool) Busy() int   { return p.busy }
func (p fakePool) Queued() int { return p.queued }

func TestRegisterWorkerPool(t *testing.T) {
	RegisterWorkerPool(fakePool{busy: 2, queued: 5})

	for _, name := range []string{"clipgrab_worker_busy", "clipgrab_worker_queued"} {
		n, err := testutil.GatherAndCount(prometheus.DefaultGatherer, name)
		if err != nil {
			t.Fatalf("GatherAndCount(%s) error = %v", name, err)
		}
		if n != 1 {
			t.Errorf("%s series = %d, want 1", name, n)
		}
	}
}
