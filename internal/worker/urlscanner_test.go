package worker_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"urlrisk/internal/pipeline"
	"urlrisk/internal/scanner"
	"urlrisk/internal/worker"
	"urlrisk/pkg/domain"
	"urlrisk/pkg/logger"
	"urlrisk/pkg/storage"
	mockstorage "urlrisk/pkg/storage/mock"
)

func TestMain(m *testing.M) {
	logger.Setup(logger.DevelopmentEnvironment)
	m.Run()
}

// stubRunner returns a canned result and counts invocations.
type stubRunner struct {
	result domain.ScanResult
	calls  atomic.Int32
}

func (s *stubRunner) Scan(_ context.Context, _ pipeline.Request) *domain.ScanResult {
	s.calls.Add(1)
	res := s.result

	return &res
}

func makeJob(id int64, url string) *river.Job[scanner.JobArgs] {
	return &river.Job[scanner.JobArgs]{
		JobRow: &rivertype.JobRow{ID: id},
		Args:   scanner.JobArgs{URL: url},
	}
}

func TestURLScannerWorker_Work_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	st := mockstorage.NewMockStorage(ctrl)
	runner := &stubRunner{result: domain.ScanResult{
		URL:       "https://ok",
		RiskLevel: domain.RiskLow,
		Action:    domain.ActionAllow,
	}}
	w := worker.NewURLScannerWorker(st, runner, 3)

	st.EXPECT().PendingScanCountByURL(gomock.Any(), "https://ok").Return(int64(2), nil)
	st.EXPECT().UpdatePendingScansByURL(gomock.Any(), "https://ok", gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, updates storage.ScanUpdates) error {
			require.Equal(t, domain.ScanStatusCompleted, updates.Status)
			require.NotNil(t, updates.Result)
			require.Equal(t, domain.RiskLow, updates.Result.RiskLevel)
			require.NotNil(t, updates.LastError)
			require.Empty(t, *updates.LastError)

			return nil
		},
	)

	require.NoError(t, w.Work(context.Background(), makeJob(1, "https://ok")))
	require.EqualValues(t, 1, runner.calls.Load())
}

func TestURLScannerWorker_Work_SkipsWhenNoPendingScans(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	st := mockstorage.NewMockStorage(ctrl)
	runner := &stubRunner{result: domain.ScanResult{RiskLevel: domain.RiskSafe}}
	w := worker.NewURLScannerWorker(st, runner, 3)

	// every scan for the URL was deleted before the job ran
	st.EXPECT().PendingScanCountByURL(gomock.Any(), "https://gone").Return(int64(0), nil)

	require.NoError(t, w.Work(context.Background(), makeJob(2, "https://gone")))
	require.Zero(t, runner.calls.Load(), "pipeline must not run without pending scans")
}

func TestURLScannerWorker_Work_RecordsFailureAndRetries(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	st := mockstorage.NewMockStorage(ctrl)
	// a result with an error and no verdict means the pipeline gave up
	runner := &stubRunner{result: domain.ScanResult{Error: "probe crashed"}}
	w := worker.NewURLScannerWorker(st, runner, 3)

	st.EXPECT().PendingScanCountByURL(gomock.Any(), "https://bad").Return(int64(1), nil)
	st.EXPECT().UpdatePendingScansByURL(gomock.Any(), "https://bad", gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, updates storage.ScanUpdates) error {
			require.Equal(t, domain.ScanStatusFailed, updates.Status)
			require.Equal(t, 3, updates.MaxAttempts)
			require.NotNil(t, updates.LastError)
			require.Equal(t, "probe crashed", *updates.LastError)

			return nil
		},
	)

	err := w.Work(context.Background(), makeJob(3, "https://bad"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "probe crashed")
}

func TestURLScannerWorker_Work_DegradedResultStillCompletes(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	st := mockstorage.NewMockStorage(ctrl)
	// an error note alongside a verdict is a degraded scan, not a failure
	runner := &stubRunner{result: domain.ScanResult{
		RiskLevel: domain.RiskMedium,
		Action:    domain.ActionWarn,
		Error:     "invalid target URL",
	}}
	w := worker.NewURLScannerWorker(st, runner, 3)

	st.EXPECT().PendingScanCountByURL(gomock.Any(), "https://degraded").Return(int64(1), nil)
	st.EXPECT().UpdatePendingScansByURL(gomock.Any(), "https://degraded", gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, updates storage.ScanUpdates) error {
			require.Equal(t, domain.ScanStatusCompleted, updates.Status)

			return nil
		},
	)

	require.NoError(t, w.Work(context.Background(), makeJob(4, "https://degraded")))
}

func TestURLScannerWorker_Work_PropagatesStorageErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	st := mockstorage.NewMockStorage(ctrl)
	runner := &stubRunner{result: domain.ScanResult{RiskLevel: domain.RiskSafe}}
	w := worker.NewURLScannerWorker(st, runner, 3)

	// error from PendingScanCountByURL
	st.EXPECT().PendingScanCountByURL(gomock.Any(), "https://err").Return(int64(0), errors.New("count err"))
	require.Error(t, w.Work(context.Background(), makeJob(5, "https://err")))

	// error from UpdatePendingScansByURL
	st.EXPECT().PendingScanCountByURL(gomock.Any(), "https://err").Return(int64(1), nil)
	st.EXPECT().UpdatePendingScansByURL(gomock.Any(), "https://err", gomock.Any()).Return(errors.New("update err"))
	require.Error(t, w.Work(context.Background(), makeJob(6, "https://err")))
}
