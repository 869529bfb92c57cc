// Package dirurl parses directory:// URIs into native filesystem paths.
//
//	directory:///home/user        -> /home/user
//	directory://C:/Users/user     -> C:\Users\user
//	directory://C/Users/user      -> C:\Users\user   (colon dropped by the browser)
//	directory:///C/Users/user     -> C:\Users\user
//	directory:///C:/Users/user    -> C:\Users\user
//	directory://server/share/dir  -> \\server\share\dir
package dirurl

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const (
	// Scheme is the URI scheme handled here.
	Scheme = "directory"

	schemePrefix = Scheme + "://"
)

var (
	// ErrInvalidScheme is returned for URIs that are not directory://.
	ErrInvalidScheme = errors.New("invalid scheme")

	// ErrInvalidURI is returned for malformed input.
	ErrInvalidURI = errors.New("invalid uri")

	// ErrEmptyPath is returned when the URI carries no path.
	ErrEmptyPath = errors.New("empty path")
)

// Kind tells which native path form a URI resolved to.
type Kind string

const (
	KindUnix    Kind = "unix"
	KindWindows Kind = "windows"
	KindUNC     Kind = "unc"
)

// DirectoryURI is a parsed directory:// URI.
type DirectoryURI struct {
	Raw  string
	Path string
	Kind Kind
}

// Parse validates uri and converts it to a native path. The path is not
// cleaned or resolved; callers check existence and resolve symlinks.
func Parse(uri string) (*DirectoryURI, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}
	if u.Scheme == "" {
		return nil, fmt.Errorf("%w: missing scheme", ErrInvalidURI)
	}
	if !strings.EqualFold(u.Scheme, Scheme) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidScheme, u.Scheme)
	}

	afterScheme, ok := cutPrefixFold(uri, schemePrefix)
	if !ok {
		return nil, fmt.Errorf("%w: missing scheme prefix", ErrInvalidURI)
	}
	if afterScheme == "" {
		return nil, ErrEmptyPath
	}

	decoded, err := url.PathUnescape(afterScheme)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}

	path, kind := toNative(afterScheme, decoded)
	if path == "" {
		return nil, ErrEmptyPath
	}

	return &DirectoryURI{Raw: uri, Path: path, Kind: kind}, nil
}

func toNative(afterScheme, decoded string) (string, Kind) {
	if strings.HasPrefix(afterScheme, "/") {
		// directory:///C:/x is what the link rewriter emits for drive paths.
		rest := fixDriveLetter(strings.TrimPrefix(decoded, "/"))
		if isDrive(rest) {
			return windowsPath(rest), KindWindows
		}
		return decoded, KindUnix
	}

	decoded = fixDriveLetter(decoded)
	if isDrive(decoded) {
		return windowsPath(decoded), KindWindows
	}

	return `\\` + windowsPath(decoded), KindUNC
}

func windowsPath(p string) string {
	return strings.ReplaceAll(p, "/", `\`)
}

func isASCIILetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// isDrive reports a "C:" prefix.
func isDrive(s string) bool {
	return len(s) >= 2 && isASCIILetter(s[0]) && s[1] == ':'
}

// isDriveWithoutColon reports a "C/" prefix.
func isDriveWithoutColon(s string) bool {
	return len(s) >= 2 && isASCIILetter(s[0]) && s[1] == '/'
}

func fixDriveLetter(s string) string {
	if !isDriveWithoutColon(s) {
		return s
	}
	return s[:1] + ":" + s[1:]
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return "", false
	}
	return s[len(prefix):], true
}
