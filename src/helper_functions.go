package skywave

/*------------------------------------------------------------------
 *
 * Purpose:	Filesystem helpers for the file sinks.
 *
 *---------------------------------------------------------------*/

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lestrrat-go/strftime"
)

func rename_file_if_exists(oldpath, newpath string) error {
	var err = os.Rename(oldpath, newpath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		log_error("could not rename file", "from", oldpath, "to", newpath, "error", err)
	}
	return err
}

func dir_exists(dir_path string) bool {
	var st, err = os.Stat(dir_path)
	return err == nil && st.IsDir()
}

func file_exists(file_path string) bool {
	var st, err = os.Stat(file_path)
	return err == nil && st.Mode().IsRegular()
}

func make_dir(dir_path string) bool {
	if err := os.MkdirAll(dir_path, 0755); err != nil {
		log_error("could not create directory", "path", dir_path, "error", err)
		return false
	}
	return true
}

func make_subdirs(basedir, subdirs string) bool {
	// if the final directory exists then nothing to do
	var final_path = filepath.Join(basedir, subdirs)
	if dir_exists(final_path) {
		return true
	}

	// otherwise create one level at a time
	var dir_path = basedir
	for _, dirname := range strings.Split(subdirs, "/") {
		dir_path = filepath.Join(dir_path, dirname)
		if err := os.Mkdir(dir_path, 0755); err != nil && !os.IsExist(err) {
			log_error("could not create directory", "path", dir_path, "error", err)
			return false
		}
	}

	return dir_exists(final_path)
}

// make_dated_subdirs creates YYYY/MM/DD below basedir and returns the full
// path, or "" on error.
func make_dated_subdirs(basedir string, t time.Time) string {
	var date_path, err = strftime.Format("%Y/%m/%d", t)
	if err != nil {
		return ""
	}

	if make_subdirs(basedir, date_path) {
		return filepath.Join(basedir, date_path)
	}
	return ""
}
