package cfg

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"

	"github.com/invitation-dn/guestgate/internal/xerrors"
)

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error unless required is true.
func LoadDotEnv(path string, required bool) (bool, error) {
	if path == "" {
		return false, nil
	}
	if err := godotenv.Load(path); err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, xerrors.Wrapf(err, "load env file %s", path)
	}
	return true, nil
}
