// Command mkfs builds a bootable FAT32 SD card image for raspbit,
// formatting a fresh image and then copying a skeleton directory tree
// into it. Earlier x86 boot paths stitch a bootloader and kernel image
// into the same disk image; there is no bootloader/kernel
// image to embed here since the Pi's own GPU firmware loads the kernel
// binary directly, so this tool's only job is the filesystem.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"raspbit/defs"
	"raspbit/fat32"
	"raspbit/ustr"
	"raspbit/vfs"
)

const defaultImageMiB = 64

func copydata(src string, dst string) {
	srcFile, err := os.Open(src)
	if err != nil {
		panic(err)
	}
	defer srcFile.Close()

	ops, err2 := vfs.Open(ustr.Ustr(dst), 0)
	if err2 != 0 {
		fmt.Printf("failed to open %v in image: %d\n", dst, err2)
		return
	}
	defer ops.Close()

	buf := make([]byte, 4096)
	off := 0
	for {
		n, readErr := srcFile.Read(buf)
		if n > 0 {
			wn, werr := ops.Pwrite(&hostUio{buf: buf[:n]}, off)
			if werr != 0 {
				panic(fmt.Sprintf("write %v: %d", dst, werr))
			}
			off += wn
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			panic(readErr)
		}
	}
}

func addfiles(skeldir string) {
	err := filepath.WalkDir(skeldir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			fmt.Printf("failed to access %q: %v\n", path, err)
			return err
		}
		rel := strings.TrimPrefix(path, skeldir)
		if rel == "" {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if _, e := vfs.Mkdir(ustr.Ustr(rel)); e != 0 {
				fmt.Printf("failed to create dir %v: %d\n", rel, e)
			}
			return nil
		}
		if _, e := vfs.Create(ustr.Ustr(rel)); e != 0 {
			fmt.Printf("failed to create file %v: %d\n", rel, e)
			return nil
		}
		copydata(path, rel)
		return nil
	})
	if err != nil {
		fmt.Printf("error walking %q: %v\n", skeldir, err)
		os.Exit(1)
	}
}

func main() {
	if len(os.Args) < 3 {
		fmt.Printf("Usage: mkfs <output image> <skel dir>\n")
		os.Exit(1)
	}
	imagePath, skelDir := os.Args[1], os.Args[2]

	f, err := os.Create(imagePath)
	if err != nil {
		fmt.Printf("create %v: %v\n", imagePath, err)
		os.Exit(1)
	}
	defer f.Close()

	if err := formatFAT32(f, defaultImageMiB<<20); err != nil {
		fmt.Printf("format %v: %v\n", imagePath, err)
		os.Exit(1)
	}

	dev := &blockDev{f: f}
	fat32.Register(dev)
	if e := vfs.InitRootfs("fat32"); e != 0 {
		fmt.Printf("mount freshly formatted image: %d\n", e)
		os.Exit(1)
	}

	addfiles(skelDir)

	if err := fat32.Syncfs(); err != nil {
		fmt.Printf("sync %v: %v\n", imagePath, err)
		os.Exit(1)
	}
}

// hostUio adapts a plain []byte read from the host filesystem to
// fdops.Userio_i, the same role syscall.bufio_t plays for a running
// process's buffers — this tool has no process or address space of its
// own, only host-side byte slices to push through Pwrite.
type hostUio struct {
	buf []byte
	off int
}

func (u *hostUio) Uioread(dst []uint8) (int, defs.Err_t) {
	n := copy(dst, u.buf[u.off:])
	u.off += n
	return n, 0
}
func (u *hostUio) Uiowrite(src []uint8) (int, defs.Err_t) {
	n := copy(u.buf[u.off:], src)
	u.off += n
	return n, 0
}
func (u *hostUio) Remain() int  { return len(u.buf) - u.off }
func (u *hostUio) Totalsz() int { return len(u.buf) }
