// Package cos provides common low-level types and utilities
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"bufio"
	"io"
	"os"
)

// ReadLines reads a file line by line and calls back for each line until the
// file ends or the callback returns io.EOF (which is not an error).
func ReadLines(filename string, cb func(string) error) error {
	fh, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer fh.Close()
	return ScanLines(fh, cb)
}

func ScanLines(r io.Reader, cb func(string) error) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := cb(scanner.Text()); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
	return scanner.Err()
}
