// Package whisperx runs WhisperX through uvx to transcribe the pipeline's
// extracted audio.
//
// Output files are written next to the audio so the pipeline's run directory
// cleanup removes them with everything else.
package whisperx
