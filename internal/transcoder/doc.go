// Package transcoder runs ffmpeg to pull audio from an RTMP stream and write
// raw 16-bit mono PCM into a named pipe.
package transcoder
