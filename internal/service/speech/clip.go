package speech

import (
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
)

// Clip is a synthesized audio file on disk. Close removes it and may be called more than once.
type Clip struct {
	path   string
	format string

	once sync.Once
	err  error
}

// NewClip writes data to a uniquely named temp file in dir (os.TempDir when empty).
func NewClip(dir string, data []byte, format string) (*Clip, error) {
	if format == "" {
		format = "mp3"
	}
	f, err := os.CreateTemp(dir, "reply-"+uuid.NewString()+"-*."+format)
	if err != nil {
		return nil, fmt.Errorf("create clip file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("write clip file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("close clip file: %w", err)
	}

	return &Clip{path: f.Name(), format: format}, nil
}

func (c *Clip) Path() string   { return c.path }
func (c *Clip) Format() string { return c.format }

// ReadAll 读取整个音频文件
func (c *Clip) ReadAll() ([]byte, error) {
	return os.ReadFile(c.path)
}

func (c *Clip) Close() error {
	c.once.Do(func() {
		if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
			c.err = err
		}
	})
	return c.err
}
