// Package transcription implements the streaming speech-recognition client.
// It opens a Google Cloud Speech-to-Text StreamingRecognize session, sends the
// recognition config followed by PCM batches pulled from a BatchSource, and
// hands every result to a caller-supplied handler in arrival order.
package transcription
