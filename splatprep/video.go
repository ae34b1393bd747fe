package splatprep

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
)

type VideoMetadata struct {
	Dims      [2]int
	Framerate [2]int
	Duration  float64
}

// Approximate number of frames in this video.
func (m VideoMetadata) NumFrames() int {
	return int(m.Duration*float64(m.Framerate[0])) / m.Framerate[1]
}

// VideoSource is the read-only input video. Probe it once up front; nothing
// mutates it afterwards.
type VideoSource struct {
	Fname    string
	Metadata VideoMetadata
}

// OpenVideo probes fname with ffprobe and returns a VideoSource.
func OpenVideo(fname string) (VideoSource, error) {
	width, height, fps, duration, err := Ffprobe(fname)
	if err != nil {
		return VideoSource{}, SourceUnavailableError{Path: fname, Err: err}
	}
	if width <= 0 || height <= 0 {
		return VideoSource{}, SourceUnavailableError{Path: fname, Err: fmt.Errorf("no video stream")}
	}
	return VideoSource{
		Fname: fname,
		Metadata: VideoMetadata{
			Dims:      [2]int{width, height},
			Framerate: fps,
			Duration:  duration,
		},
	}, nil
}

func Ffprobe(fname string) (width int, height int, fps [2]int, duration float64, err error) {
	var cmd *Cmd
	cmd, err = Command(
		"ffprobe", CommandOptions{NoStdin: true},
		"ffprobe",
		"-v", "error", "-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,duration",
		"-of", "csv=s=,:p=0",
		fname,
	)
	if err != nil {
		return
	}
	rd := bufio.NewReader(cmd.Stdout())
	var line string
	line, err = rd.ReadString('\n')
	if err != nil {
		cmd.Wait()
		err = fmt.Errorf("ffprobe produced no output: %v", err)
		return
	}
	parts := strings.Split(strings.TrimSpace(line), ",")
	if len(parts) < 4 {
		cmd.Wait()
		err = fmt.Errorf("unexpected ffprobe output %q", line)
		return
	}
	width, _ = strconv.Atoi(parts[0])
	height, _ = strconv.Atoi(parts[1])
	fps = parseRate(parts[2])
	duration, _ = strconv.ParseFloat(parts[3], 64)
	err = cmd.Wait()
	return
}

func parseRate(s string) [2]int {
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return [2]int{30, 1}
	}
	num, _ := strconv.Atoi(parts[0])
	den, _ := strconv.Atoi(parts[1])
	if num <= 0 || den <= 0 {
		return [2]int{30, 1}
	}
	return [2]int{num, den}
}

// VideoReader yields decoded frames in order.
// Error should be io.EOF if there are no more images.
// If an image is returned, error must NOT be io.EOF.
type VideoReader interface {
	Read() (Image, error)
	Close()
}

type FfmpegReader struct {
	Cmd    *Cmd
	Stdout io.ReadCloser
	Width  int
	Height int
	Buf    []byte
}

// ReadVideo decodes src into raw rgb24 frames at the given dimensions,
// preserving the source frame rate.
func ReadVideo(src VideoSource, dims [2]int) (*FfmpegReader, error) {
	log.Printf("[ffmpeg] from %s extract frames %dx%d", src.Fname, dims[0], dims[1])
	rate := src.Metadata.Framerate
	cmd, err := Command(
		"ffmpeg-read", CommandOptions{OnlyDebug: true, NoStdin: true},
		"ffmpeg",
		"-threads", "2",
		"-i", src.Fname,
		"-c:v", "rawvideo", "-pix_fmt", "rgb24", "-f", "rawvideo",
		"-vf", fmt.Sprintf("scale=%dx%d,fps=fps=%d/%d:round=up", dims[0], dims[1], rate[0], rate[1]),
		"-",
	)
	if err != nil {
		return nil, err
	}
	return &FfmpegReader{
		Cmd:    cmd,
		Stdout: cmd.Stdout(),
		Width:  dims[0],
		Height: dims[1],
		Buf:    make([]byte, dims[0]*dims[1]*3),
	}, nil
}

func (rd *FfmpegReader) Read() (Image, error) {
	n, err := io.ReadFull(rd.Stdout, rd.Buf)
	if err == io.ErrUnexpectedEOF && n > 0 {
		// truncated frame at end of stream
		return Image{}, fmt.Errorf("truncated frame (%d of %d bytes)", n, len(rd.Buf))
	} else if err != nil {
		return Image{}, io.EOF
	}
	buf := make([]byte, len(rd.Buf))
	copy(buf, rd.Buf)
	return ImageFromBytes(rd.Width, rd.Height, buf), nil
}

func (rd *FfmpegReader) Close() {
	rd.Stdout.Close()
	rd.Cmd.Wait()
}
