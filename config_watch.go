package vpiano

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
)

// WatchConfig re-reads the config at path whenever it changes on disk and
// sends the result on configs. Read and watch failures go to errs. Closing
// done stops the watch.
func WatchConfig(path string, configs chan<- *Config, errs chan<- error, done <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("can't create watcher: %w", err)
	}
	go func() {
	loop:
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					break loop
				}
				// editors save via rename as often as via write
				if event.Op&(fsnotify.Write|fsnotify.Rename|fsnotify.Create) > 0 {
					c, err := ReadConfig(path)
					if err != nil {
						errs <- err
						continue loop
					}
					configs <- c
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					break loop
				}
				errs <- err
			case <-done:
				break loop
			}
		}
		// ignore close error
		watcher.Close()
	}()
	err = watcher.Add(path)
	if err != nil {
		watcher.Close()
		return err
	}
	return nil
}
