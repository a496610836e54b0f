// Package audio bridges a blocking PCM byte stream (the transcoder's named pipe)
// to a pull-based, batch-coalescing sample source consumed by the recognition
// client. It also holds the PCM-16 codec helpers and a streaming WAV recorder.
package audio
