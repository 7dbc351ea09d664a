// Package device describes the host and application that register with the
// collector.
package device

import (
	"bufio"
	"io"
	"os"
	"runtime"
	"runtime/debug"
	"strings"
)

const unknown = "Unknown"

type Context struct {
	Model      string
	OSVersion  string
	OSName     string
	AppVersion string
	AppBuild   string
}

// Fields returns the registration body fields.
func (c Context) Fields() map[string]any {
	return map[string]any{
		"device_model": c.Model,
		"os_version":   c.OSVersion,
		"os_name":      c.OSName,
		"app_version":  c.AppVersion,
		"app_build":    c.AppBuild,
	}
}

// Current inspects the running process. Missing values are reported as
// "Unknown".
func Current() Context {
	c := Context{
		Model:      runtime.GOARCH,
		OSVersion:  osVersion(),
		OSName:     runtime.GOOS,
		AppVersion: unknown,
		AppBuild:   unknown,
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		c.Model = host + "/" + runtime.GOARCH
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return c
	}
	if v := info.Main.Version; v != "" && v != "(devel)" {
		c.AppVersion = v
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			c.AppBuild = s.Value
		}
	}
	return c
}

func osVersion() string {
	f, err := os.Open("/etc/os-release")
	if err != nil {
		return unknown
	}
	defer f.Close()
	return parseOSRelease(f)
}

func parseOSRelease(r io.Reader) string {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		k, v, ok := strings.Cut(sc.Text(), "=")
		if ok && k == "VERSION_ID" {
			return strings.Trim(v, `"`)
		}
	}
	return unknown
}
