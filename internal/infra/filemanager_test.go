package infra

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/focusd/dirlink/internal/domain"
)

func TestFileManagers_Reveal(t *testing.T) {
	tests := []struct {
		name   string
		goos   string
		path   string
		isFile bool
		want   []string
	}{
		{
			name: "explorer directory",
			goos: "windows",
			path: `C:\Users\x`,
			want: []string{`explorer.exe C:\Users\x`},
		},
		{
			name:   "explorer file selects",
			goos:   "windows",
			path:   `C:\Users\x\a.txt`,
			isFile: true,
			want:   []string{`explorer.exe /select,C:\Users\x\a.txt`},
		},
		{
			name: "finder directory",
			goos: "darwin",
			path: "/Users/x",
			want: []string{"open /Users/x"},
		},
		{
			name:   "finder file reveals",
			goos:   "darwin",
			path:   "/Users/x/a.txt",
			isFile: true,
			want:   []string{"open -R /Users/x/a.txt"},
		},
		{
			name: "xdg directory",
			goos: "linux",
			path: "/home/x",
			want: []string{"xdg-open /home/x"},
		},
		{
			name:   "xdg file through dbus",
			goos:   "linux",
			path:   "/home/x/my file.txt",
			isFile: true,
			want: []string{
				"dbus-send --session --dest=org.freedesktop.FileManager1 --type=method_call " +
					"/org/freedesktop/FileManager1 org.freedesktop.FileManager1.ShowItems " +
					"array:string:file:///home/x/my%20file.txt string:",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			starter := newMockStarter()
			runner := newMockCommandRunner()
			runner.lookPath["xdg-open"] = true

			fm, err := SelectFileManager(FileManagers(tt.goos, starter, runner))
			require.NoError(t, err)

			require.NoError(t, fm.Reveal(tt.path, tt.isFile))
			assert.Equal(t, tt.want, starter.commands())
		})
	}
}

func TestFreedesktopFileManager_FallsBackWithoutDBus(t *testing.T) {
	starter := newMockStarter()
	starter.fail["dbus-send"] = errors.New("executable file not found")
	fm := NewFreedesktopFileManager("linux", starter, newMockCommandRunner())

	require.NoError(t, fm.Reveal("/home/x/a.txt", true))

	assert.Equal(t, []string{
		"dbus-send --session --dest=org.freedesktop.FileManager1 --type=method_call " +
			"/org/freedesktop/FileManager1 org.freedesktop.FileManager1.ShowItems " +
			"array:string:file:///home/x/a.txt string:",
		"xdg-open /home/x",
	}, starter.commands())
}

func TestFileManager_StartFailure(t *testing.T) {
	starter := newMockStarter()
	starter.fail["open"] = errors.New("no such file")
	fm := NewFinderFileManager("darwin", starter)

	assert.Error(t, fm.Reveal("/Users/x", false))
}

func TestSelectFileManager(t *testing.T) {
	tests := []struct {
		name     string
		goos     string
		hasXDG   bool
		wantName string
		wantErr  bool
	}{
		{name: "windows", goos: "windows", wantName: "explorer"},
		{name: "darwin", goos: "darwin", wantName: "open"},
		{name: "linux with xdg-open", goos: "linux", hasXDG: true, wantName: "xdg"},
		{name: "linux without xdg-open", goos: "linux", wantErr: true},
		{name: "darwin ignores xdg-open", goos: "darwin", hasXDG: true, wantName: "open"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := newMockCommandRunner()
			runner.lookPath["xdg-open"] = tt.hasXDG

			fm, err := SelectFileManager(FileManagers(tt.goos, newMockStarter(), runner))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, fm.Name())
		})
	}
}

func TestSelectFileManager_Empty(t *testing.T) {
	_, err := SelectFileManager([]domain.FileManager{})
	assert.Error(t, err)
}
