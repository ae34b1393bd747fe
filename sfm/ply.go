package sfm

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

// WritePLY exports the sparse cloud as an ascii PLY file.
func WritePLY(points []Point3, out io.Writer) error {
	w := bufio.NewWriter(out)
	_, err := fmt.Fprintf(w, "ply\n"+
		"format ascii 1.0\n"+
		"element vertex %d\n"+
		"property float x\n"+
		"property float y\n"+
		"property float z\n"+
		"end_header\n",
		len(points))
	if err != nil {
		return err
	}
	for _, pt := range points {
		_, err = fmt.Fprintf(w, "%f %f %f\n", pt.Position.X, pt.Position.Y, pt.Position.Z)
		if err != nil {
			return err
		}
	}
	return w.Flush()
}

func WritePLYFile(fname string, points []Point3) error {
	file, err := os.Create(fname)
	if err != nil {
		return err
	}
	if err := WritePLY(points, file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
