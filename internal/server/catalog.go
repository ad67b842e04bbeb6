package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/BaSui01/config2flow/config"
)

// =============================================================================
// 📚 预加载应用目录
// =============================================================================

// AppSummary 目录中一个应用的概要
type AppSummary struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Path        string    `json:"path"`
	LoadedAt    time.Time `json:"loaded_at"`
}

type catalogEntry struct {
	cfg      *config.AppConfig
	path     string
	loadedAt time.Time
}

// Catalog 持有从文件或目录预加载的应用配置。只保存解析后的配置，
// 每次运行由工厂重新构造节点图。
type Catalog struct {
	mu     sync.RWMutex
	source string
	apps   map[string]catalogEntry
	logger *zap.Logger

	debounce time.Duration
	onReload func(names []string)
}

// NewCatalog 创建空目录
func NewCatalog(logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{
		apps:     make(map[string]catalogEntry),
		logger:   logger.With(zap.String("component", "app_catalog")),
		debounce: 100 * time.Millisecond,
	}
}

// OnReload 注册重载成功后的回调
func (c *Catalog) OnReload(fn func(names []string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReload = fn
}

// Load 从 YAML 文件或目录（*.yaml / *.yml）加载应用。任一文件失败则整体失败，已有内容保持不变。
func (c *Catalog) Load(source string) error {
	files, err := appFiles(source)
	if err != nil {
		return err
	}

	apps := make(map[string]catalogEntry, len(files))
	now := time.Now().UTC()
	for _, path := range files {
		cfg, err := config.LoadApp(path)
		if err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		if prev, dup := apps[cfg.Name]; dup {
			return fmt.Errorf("duplicate app name %q in %s and %s", cfg.Name, prev.path, path)
		}
		apps[cfg.Name] = catalogEntry{cfg: cfg, path: path, loadedAt: now}
	}

	c.mu.Lock()
	c.source = source
	c.apps = apps
	onReload := c.onReload
	c.mu.Unlock()

	names := c.Names()
	c.logger.Info("apps loaded", zap.String("source", source), zap.Strings("apps", names))
	if onReload != nil {
		onReload(names)
	}
	return nil
}

func appFiles(source string) ([]string, error) {
	info, err := os.Stat(source)
	if err != nil {
		return nil, fmt.Errorf("app source: %w", err)
	}
	if !info.IsDir() {
		return []string{source}, nil
	}
	entries, err := os.ReadDir(source)
	if err != nil {
		return nil, fmt.Errorf("read app dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && isYAML(e.Name()) {
			files = append(files, filepath.Join(source, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// Get 按名称查找应用配置
func (c *Catalog) Get(name string) (*config.AppConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.apps[name]
	if !ok {
		return nil, false
	}
	return e.cfg, true
}

// Names 返回排序后的应用名
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.apps))
	for name := range c.apps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List 返回全部应用概要，按名称排序
func (c *Catalog) List() []AppSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]AppSummary, 0, len(c.apps))
	for _, e := range c.apps {
		out = append(out, AppSummary{
			Name:        e.cfg.Name,
			Description: e.cfg.Description,
			Path:        e.path,
			LoadedAt:    e.loadedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len 应用数量
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.apps)
}

// =============================================================================
// 🔄 热重载
// =============================================================================

// Watch 监听来源目录，YAML 变化后防抖重载。重载失败时保留旧内容。
// 阻塞直到 ctx 结束；ready 非 nil 时在监听建立后关闭。
func (c *Catalog) Watch(ctx context.Context, ready chan<- struct{}) error {
	c.mu.RLock()
	source := c.source
	c.mu.RUnlock()
	if source == "" {
		return fmt.Errorf("catalog has no source to watch")
	}

	info, err := os.Stat(source)
	if err != nil {
		return fmt.Errorf("app source: %w", err)
	}
	dir, only := source, ""
	if !info.IsDir() {
		// 监听所在目录，编辑器常以 rename 方式保存
		dir, only = filepath.Dir(source), filepath.Base(source)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	c.logger.Info("watching apps", zap.String("dir", dir))
	if ready != nil {
		close(ready)
	}

	var timer *time.Timer
	reload := make(chan struct{}, 1)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name := filepath.Base(ev.Name)
			if (only != "" && name != only) || (only == "" && !isYAML(name)) {
				continue
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) &&
				!ev.Op.Has(fsnotify.Remove) && !ev.Op.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(c.debounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			if err := c.Load(source); err != nil {
				c.logger.Warn("app reload failed, keeping previous apps", zap.Error(err))
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Error("watcher error", zap.Error(err))
		}
	}
}
