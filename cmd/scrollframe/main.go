// Package main provides the scrollframe CLI.
//
// scrollframe drives a Chromium page over CDP, captures a selected region
// every time the page scrolls far enough, and serves the frames over HTTP.
//
// Usage:
//
//	scrollframe serve
//	scrollframe frames list
//	scrollframe frames export --format html --out capture.html
package main

func main() {
	Execute()
}
