package watch

import (
	"context"
	"log"
	"sync"

	"github.com/astroniennn/com7-queue-flow/internal/models"
)

// Built-in sound assets used when no sound is configured for a
// transition.
const (
	DefaultAlmostSound  = "/notification.mp3"
	DefaultServingSound = "/urgent-notification.mp3"
)

type SoundStore interface {
	ListSounds(ctx context.Context) ([]models.NotificationSound, error)
}

// ResolveSoundURLs maps the alerting transitions to their configured
// sound files. Configured rows are matched by transition name; lookup
// failures and missing rows fall back to the built-in assets, so the
// result always covers both transitions.
func ResolveSoundURLs(ctx context.Context, src SoundStore) map[models.Status]string {
	urls := map[models.Status]string{
		models.StatusAlmost:  DefaultAlmostSound,
		models.StatusServing: DefaultServingSound,
	}

	sounds, err := src.ListSounds(ctx)
	if err != nil {
		log.Printf("sound lookup error: %v", err)
		return urls
	}
	for _, sound := range sounds {
		if sound.FilePath == "" {
			continue
		}
		switch sound.Name {
		case string(models.StatusAlmost):
			urls[models.StatusAlmost] = sound.FilePath
		case string(models.StatusServing):
			urls[models.StatusServing] = sound.FilePath
		}
	}
	return urls
}

// Handle is one loaded sound. Reset rewinds playback to the start so a
// replay never resumes mid-clip.
type Handle interface {
	Reset()
	Play() error
}

type Player interface {
	Open(url string) (Handle, error)
}

// SoundCache loads each URL once and replays the cached handle.
// Playback is best effort: failures are logged and never surfaced, the
// visual alert remains the primary channel. The cache is shared by all
// active watchers; per-handle replay is idempotent (reset then play).
type SoundCache struct {
	player  Player
	mu      sync.Mutex
	handles map[string]Handle
}

func NewSoundCache(player Player) *SoundCache {
	return &SoundCache{
		player:  player,
		handles: make(map[string]Handle),
	}
}

func (c *SoundCache) Play(url string) {
	if url == "" {
		return
	}
	c.mu.Lock()
	handle, ok := c.handles[url]
	if !ok {
		loaded, err := c.player.Open(url)
		if err != nil {
			c.mu.Unlock()
			log.Printf("sound open error url=%s: %v", url, err)
			return
		}
		c.handles[url] = loaded
		handle = loaded
	}
	c.mu.Unlock()

	handle.Reset()
	if err := handle.Play(); err != nil {
		log.Printf("sound play error url=%s: %v", url, err)
	}
}

// LogPlayer is the default player: it records playback intent in the
// log. Actual audio output happens on the client from the sound URL
// carried in the alert frame.
type LogPlayer struct{}

func (LogPlayer) Open(url string) (Handle, error) {
	return logHandle{url: url}, nil
}

type logHandle struct {
	url string
}

func (logHandle) Reset() {}

func (h logHandle) Play() error {
	log.Printf("sound play url=%s", h.url)
	return nil
}
