package main

import (
	"bytes"
	"path/filepath"
	"testing"
)

// captureOutput 在测试期间把 stdOut/stdErr 重定向到内存缓冲。
func captureOutput(t *testing.T) (stdout, stderr *bytes.Buffer) {
	t.Helper()
	stdout, stderr = &bytes.Buffer{}, &bytes.Buffer{}
	prevOut, prevErr := stdOut, stdErr
	stdOut, stdErr = stdout, stderr
	t.Cleanup(func() {
		stdOut, stdErr = prevOut, prevErr
	})
	return stdout, stderr
}

// configFixture 返回 internal/config/testdata 下的配置样例，go test 以包目录为工作目录。
func configFixture(name string) string {
	return filepath.Join("internal", "config", "testdata", name)
}
