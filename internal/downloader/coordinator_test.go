package downloader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"blog_vault/internal/control"
	"blog_vault/internal/domain"
	"blog_vault/internal/downloader/mocks"
	"blog_vault/internal/transfer"
)

type CoordinatorTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller

	transferer *mocks.MockTransferer
	store      *mocks.MockIndexStore
	appender   *mocks.MockAppender
	sink       *mocks.MockSink

	blog      domain.Blog
	signals   *control.Control
	fatalMsgs []string
	savedKeys []string
	logger    *slog.Logger
}

func (s *CoordinatorTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())

	s.transferer = mocks.NewMockTransferer(s.ctrl)
	s.store = mocks.NewMockIndexStore(s.ctrl)
	s.appender = mocks.NewMockAppender(s.ctrl)
	s.sink = mocks.NewMockSink(s.ctrl)

	s.blog = domain.Blog{
		Name: "someblog",
		URL:  "https://someblog.example.com",
		Dir:  s.T().TempDir(),
	}
	s.fatalMsgs = nil
	s.savedKeys = nil
	s.signals = control.New(func(msg string) { s.fatalMsgs = append(s.fatalMsgs, msg) })
	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	s.sink.EXPECT().Publish(gomock.Any()).AnyTimes()
}

func (s *CoordinatorTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestCoordinatorTestSuite(t *testing.T) {
	suite.Run(t, new(CoordinatorTestSuite))
}

func (s *CoordinatorTestSuite) newCoordinator(opts Options) *Coordinator {
	return NewCoordinator(s.blog, opts, s.transferer, s.store, s.appender, s.sink, s.signals, s.logger)
}

// expectIndex wires Load to return keys and Save to capture whatever
// the run persists.
func (s *CoordinatorTestSuite) expectIndex(keys ...string) {
	s.store.EXPECT().Load(gomock.Any(), "someblog").Return(keys, nil)
	s.store.EXPECT().Save(gomock.Any(), "someblog", gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, saved []string) error {
			s.savedKeys = saved
			return nil
		},
	)
}

func feed(posts ...domain.Post) <-chan domain.Post {
	ch := make(chan domain.Post, len(posts))
	for _, p := range posts {
		ch <- p
	}
	close(ch)
	return ch
}

func (s *CoordinatorTestSuite) TestRun_SinglePhoto() {
	s.expectIndex()
	s.transferer.EXPECT().Fetch(gomock.Any(), "https://media.example.com/a.jpg", filepath.Join(s.blog.Dir, "a.jpg")).Return(nil)

	coord := s.newCoordinator(Options{GlobalParallel: 2, ActiveJobs: 1, TotalExpected: 1})
	ok := coord.Run(context.Background(), feed(domain.Post{
		ID:   "1",
		URL:  "https://media.example.com/a.jpg",
		Type: domain.TypePhoto,
	}))

	s.True(ok)
	s.Equal(int64(1), coord.Counters().Count(domain.TypePhoto))
	s.Equal(int64(1), coord.Counters().Aggregate())
	s.Equal(int64(100), coord.Counters().Percent())
	s.Equal([]string{"a.jpg"}, s.savedKeys)
}

func (s *CoordinatorTestSuite) TestRun_TextPostAlreadyIndexed() {
	s.expectIndex("2")
	// No AppendLine expectation: the indexed post must be skipped.

	coord := s.newCoordinator(Options{GlobalParallel: 2, ActiveJobs: 1, TotalExpected: 1})
	ok := coord.Run(context.Background(), feed(domain.Post{
		ID:   "2",
		URL:  "note",
		Type: domain.TypeText,
	}))

	s.True(ok)
	s.Zero(coord.Counters().Count(domain.TypeText))
	s.Equal([]string{"2"}, s.savedKeys)
}

func (s *CoordinatorTestSuite) TestRun_RemoteRejectionIsItemLevel() {
	s.expectIndex()
	s.transferer.EXPECT().Fetch(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(fmt.Errorf("status 404: %w", transfer.ErrRemote))

	coord := s.newCoordinator(Options{GlobalParallel: 2, ActiveJobs: 1, TotalExpected: 1})
	ok := coord.Run(context.Background(), feed(domain.Post{
		ID:   "3",
		URL:  "https://media.example.com/b.jpg",
		Type: domain.TypePhoto,
	}))

	s.True(ok, "a permanently failing item must not fail the run")
	s.Zero(coord.Counters().Aggregate())
	s.Equal(int64(1), coord.Stats(ok, 0).Errors)
	s.Empty(s.savedKeys)
}

func (s *CoordinatorTestSuite) TestRun_DiskFullStopsEverything() {
	s.expectIndex("done.jpg")
	s.transferer.EXPECT().Fetch(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(fmt.Errorf("write: %w", transfer.ErrDiskFull))

	coord := s.newCoordinator(Options{GlobalParallel: 2, ActiveJobs: 1, TotalExpected: 2})
	ok := coord.Run(context.Background(), feed(domain.Post{
		ID:   "4",
		URL:  "https://media.example.com/c.jpg",
		Type: domain.TypePhoto,
	}))

	s.False(ok)
	s.True(s.signals.Cancelled(), "disk exhaustion must stop all active jobs")
	s.Len(s.fatalMsgs, 1)
	s.Equal([]string{"done.jpg"}, s.savedKeys, "index still saved with prior keys")
}

func (s *CoordinatorTestSuite) TestRun_TransientFailureSwallowed() {
	s.expectIndex()
	s.transferer.EXPECT().Fetch(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(errors.New("connection reset"))

	coord := s.newCoordinator(Options{GlobalParallel: 2, ActiveJobs: 1, TotalExpected: 1})
	ok := coord.Run(context.Background(), feed(domain.Post{
		ID:   "5",
		URL:  "https://media.example.com/d.jpg",
		Type: domain.TypePhoto,
	}))

	s.True(ok)
	s.Zero(coord.Counters().Aggregate())
}

func (s *CoordinatorTestSuite) TestRun_FileBusyTreatedAsSuccessWithoutAccounting() {
	s.expectIndex()
	s.transferer.EXPECT().Fetch(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(fmt.Errorf("held: %w", transfer.ErrFileBusy))

	coord := s.newCoordinator(Options{GlobalParallel: 2, ActiveJobs: 1, TotalExpected: 1})
	ok := coord.Run(context.Background(), feed(domain.Post{
		ID:   "6",
		URL:  "https://media.example.com/e.jpg",
		Type: domain.TypePhoto,
	}))

	s.True(ok)
	s.Zero(coord.Counters().Aggregate(), "the concurrent owner accounts the item")
}

func (s *CoordinatorTestSuite) TestRun_TextPostAppendsLine() {
	s.expectIndex()
	s.appender.EXPECT().AppendLine(filepath.Join(s.blog.Dir, "quotes.txt"), "wisdom").Return(nil)

	coord := s.newCoordinator(Options{GlobalParallel: 2, ActiveJobs: 1, TotalExpected: 1})
	ok := coord.Run(context.Background(), feed(domain.Post{
		ID:   "7",
		URL:  "wisdom",
		Type: domain.TypeQuote,
	}))

	s.True(ok)
	s.Equal(int64(1), coord.Counters().Count(domain.TypeQuote))
	s.Equal([]string{"7"}, s.savedKeys)
}

func (s *CoordinatorTestSuite) TestRun_URLListModeWritesManifest() {
	s.blog.URLListOnly = true
	s.expectIndex()
	s.appender.EXPECT().AppendLine(filepath.Join(s.blog.Dir, "urls.txt"), "https://media.example.com/f.mp4").Return(nil)
	// No Fetch expectation: nothing is transferred in URL-list mode.

	coord := s.newCoordinator(Options{GlobalParallel: 2, ActiveJobs: 1, TotalExpected: 1})
	ok := coord.Run(context.Background(), feed(domain.Post{
		ID:   "8",
		URL:  "https://media.example.com/f.mp4",
		Type: domain.TypeVideo,
	}))

	s.True(ok)
	s.Equal(int64(1), coord.Counters().Count(domain.TypeVideo))
}

func (s *CoordinatorTestSuite) TestRun_CheckDirectorySkipsExistingFile() {
	s.blog.CheckDirectory = true
	s.Require().NoError(os.WriteFile(filepath.Join(s.blog.Dir, "g.jpg"), []byte("x"), 0o644))
	s.expectIndex()

	coord := s.newCoordinator(Options{GlobalParallel: 2, ActiveJobs: 1, TotalExpected: 1})
	ok := coord.Run(context.Background(), feed(domain.Post{
		ID:   "9",
		URL:  "https://media.example.com/g.jpg",
		Type: domain.TypePhoto,
	}))

	s.True(ok)
	s.Zero(coord.Counters().Aggregate())
}

func (s *CoordinatorTestSuite) TestRun_TagFilterSkipsUnmatched() {
	s.blog.Tags = []string{"art"}
	s.expectIndex()
	s.appender.EXPECT().AppendLine(gomock.Any(), "tagged").Return(nil)

	coord := s.newCoordinator(Options{GlobalParallel: 2, ActiveJobs: 1, TotalExpected: 2})
	ok := coord.Run(context.Background(), feed(
		domain.Post{ID: "10", URL: "untagged", Type: domain.TypeText, Tags: []string{"cats"}},
		domain.Post{ID: "11", URL: "tagged", Type: domain.TypeText, Tags: []string{"art", "cats"}},
	))

	s.True(ok)
	s.Equal(int64(1), coord.Counters().Count(domain.TypeText))
	s.Equal([]string{"11"}, s.savedKeys)
}

func (s *CoordinatorTestSuite) TestRun_BoundedConcurrency() {
	const limit = 2
	const items = 8

	s.expectIndex()

	var mu sync.Mutex
	inflight, peak := 0, 0
	s.transferer.EXPECT().Fetch(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, string, string) error {
			mu.Lock()
			inflight++
			if inflight > peak {
				peak = inflight
			}
			mu.Unlock()

			time.Sleep(10 * time.Millisecond)

			mu.Lock()
			inflight--
			mu.Unlock()
			return nil
		},
	).Times(items)

	posts := make([]domain.Post, items)
	for i := range posts {
		posts[i] = domain.Post{
			ID:   fmt.Sprintf("p%d", i),
			URL:  fmt.Sprintf("https://media.example.com/img%d.jpg", i),
			Type: domain.TypePhoto,
		}
	}

	coord := s.newCoordinator(Options{GlobalParallel: limit, ActiveJobs: 1, TotalExpected: items})
	ok := coord.Run(context.Background(), feed(posts...))

	s.True(ok)
	s.LessOrEqual(peak, limit, "never more than %d transfers in flight", limit)
	s.Equal(int64(items), coord.Counters().Aggregate())
}

func (s *CoordinatorTestSuite) TestRun_AggregateEqualsSumOfTyped() {
	s.expectIndex()
	s.transferer.EXPECT().Fetch(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	s.appender.EXPECT().AppendLine(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	types := []domain.PostType{
		domain.TypePhoto, domain.TypeVideo, domain.TypeAudio, domain.TypeText,
		domain.TypeQuote, domain.TypeLink, domain.TypeConversation, domain.TypeAnswer,
		domain.TypePhotoMeta, domain.TypeVideoMeta, domain.TypeAudioMeta,
	}

	var posts []domain.Post
	for i := 0; i < 66; i++ {
		posts = append(posts, domain.Post{
			ID:   fmt.Sprintf("id%d", i),
			URL:  fmt.Sprintf("https://media.example.com/file%d.bin", i),
			Type: types[i%len(types)],
		})
	}

	coord := s.newCoordinator(Options{GlobalParallel: 4, ActiveJobs: 1, TotalExpected: int64(len(posts))})
	ok := coord.Run(context.Background(), feed(posts...))
	s.True(ok)

	var sum int64
	for _, n := range coord.Counters().Snapshot() {
		sum += n
	}
	s.Equal(coord.Counters().Aggregate(), sum)
	s.Equal(int64(len(posts)), sum)
}

func (s *CoordinatorTestSuite) TestRun_PauseHoldsNewItems() {
	s.expectIndex()

	fetched := make(chan struct{}, 2)
	s.transferer.EXPECT().Fetch(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, string, string) error {
			fetched <- struct{}{}
			return nil
		},
	).Times(2)

	s.signals.Pause()

	coord := s.newCoordinator(Options{GlobalParallel: 2, ActiveJobs: 1, TotalExpected: 2})
	done := make(chan bool, 1)
	go func() {
		done <- coord.Run(context.Background(), feed(
			domain.Post{ID: "a", URL: "https://media.example.com/1.jpg", Type: domain.TypePhoto},
			domain.Post{ID: "b", URL: "https://media.example.com/2.jpg", Type: domain.TypePhoto},
		))
	}()

	select {
	case <-fetched:
		s.Fail("item started while paused")
	case <-time.After(50 * time.Millisecond):
	}

	s.signals.Resume()

	select {
	case ok := <-done:
		s.True(ok)
	case <-time.After(2 * time.Second):
		s.Fail("run did not finish after resume")
	}
	s.Equal(int64(2), coord.Counters().Aggregate())
}

func (s *CoordinatorTestSuite) TestRun_CancelLetsInflightFinish() {
	s.expectIndex()

	started := make(chan struct{})
	release := make(chan struct{})
	s.transferer.EXPECT().Fetch(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, string, string) error {
			close(started)
			<-release
			return nil
		},
	).Times(1)

	posts := make(chan domain.Post, 4)
	posts <- domain.Post{ID: "a", URL: "https://media.example.com/1.jpg", Type: domain.TypePhoto}
	posts <- domain.Post{ID: "b", URL: "https://media.example.com/2.jpg", Type: domain.TypePhoto}
	posts <- domain.Post{ID: "c", URL: "https://media.example.com/3.jpg", Type: domain.TypePhoto}
	close(posts)

	coord := s.newCoordinator(Options{GlobalParallel: 1, ActiveJobs: 1, TotalExpected: 3})
	done := make(chan bool, 1)
	go func() {
		done <- coord.Run(context.Background(), posts)
	}()

	<-started
	s.signals.Cancel()
	close(release)

	select {
	case ok := <-done:
		s.True(ok, "plain cancellation is not a failure")
	case <-time.After(2 * time.Second):
		s.Fail("run did not finish after cancel")
	}

	s.Equal(int64(1), coord.Counters().Aggregate(), "only the in-flight item completes")
	s.Equal([]string{"1.jpg"}, s.savedKeys, "saved index holds exactly the completed keys")
}

func (s *CoordinatorTestSuite) TestRun_PanicCollapsesResult() {
	s.expectIndex()
	s.transferer.EXPECT().Fetch(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, string, string) error {
			panic("broken handler")
		},
	)

	coord := s.newCoordinator(Options{GlobalParallel: 2, ActiveJobs: 1, TotalExpected: 1})
	ok := coord.Run(context.Background(), feed(domain.Post{
		ID:   "z",
		URL:  "https://media.example.com/z.jpg",
		Type: domain.TypePhoto,
	}))

	s.False(ok)
	s.NotNil(s.savedKeys, "index saved even on aggregate failure")
}

func (s *CoordinatorTestSuite) TestRun_IndexLoadFailureFailsRun() {
	s.store.EXPECT().Load(gomock.Any(), "someblog").Return(nil, errors.New("db down"))

	coord := s.newCoordinator(Options{GlobalParallel: 2, ActiveJobs: 1})
	ok := coord.Run(context.Background(), feed())

	s.False(ok)
}

func (s *CoordinatorTestSuite) TestRun_ZeroTotalExpectedClampsPercent() {
	s.expectIndex()
	s.transferer.EXPECT().Fetch(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

	coord := s.newCoordinator(Options{GlobalParallel: 2, ActiveJobs: 1, TotalExpected: 0})
	ok := coord.Run(context.Background(), feed(domain.Post{
		ID:   "1",
		URL:  "https://media.example.com/a.jpg",
		Type: domain.TypePhoto,
	}))

	s.True(ok)
	s.Equal(int64(0), coord.Counters().Percent())
}

func (s *CoordinatorTestSuite) TestRun_ClearsPreviewPointers() {
	s.expectIndex()
	s.transferer.EXPECT().Fetch(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

	coord := s.newCoordinator(Options{GlobalParallel: 2, ActiveJobs: 1, Preview: true, TotalExpected: 1})
	ok := coord.Run(context.Background(), feed(domain.Post{
		ID:   "1",
		URL:  "https://media.example.com/a.jpg",
		Type: domain.TypePhoto,
	}))
	s.True(ok)

	_, photoSet := coord.LastPhoto()
	_, videoSet := coord.LastVideo()
	s.False(photoSet, "preview pointers are cleared at job end")
	s.False(videoSet)
}

func TestUpdatePreview_RoutesAnimatedImagesToVideo(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	blog := domain.Blog{Name: "someblog", Dir: t.TempDir()}
	coord := NewCoordinator(blog, Options{Preview: true}, nil, nil, nil, nil, control.New(nil), logger)

	coord.updatePreview(domain.TypePhoto, "still.jpg", "/x/still.jpg")
	coord.updatePreview(domain.TypePhoto, "moving.GIF", "/x/moving.GIF")
	coord.updatePreview(domain.TypeVideo, "clip.mp4", "/x/clip.mp4")

	photo, ok := coord.LastPhoto()
	if !ok || photo != "/x/still.jpg" {
		t.Fatalf("last photo = %q, %v", photo, ok)
	}
	video, ok := coord.LastVideo()
	if !ok || video != "/x/clip.mp4" {
		t.Fatalf("last video = %q, %v", video, ok)
	}
}

func TestUpdatePreview_DisabledLeavesPointersNil(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	blog := domain.Blog{Name: "someblog", Dir: t.TempDir()}
	coord := NewCoordinator(blog, Options{Preview: false}, nil, nil, nil, nil, control.New(nil), logger)

	coord.updatePreview(domain.TypePhoto, "still.jpg", "/x/still.jpg")

	if _, ok := coord.LastPhoto(); ok {
		t.Fatal("preview pointer set although preview is disabled")
	}
}
