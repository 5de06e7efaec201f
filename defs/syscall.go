package defs

/// Syscall numbers handled by the syscall package (component I). Numbering
/// follows the lab6/lab7/lab8 teaching kernel this board targets.
const (
	SYS_GETPID    = 0
	SYS_UARTREAD  = 1
	SYS_UARTWRITE = 2
	SYS_EXEC      = 3
	SYS_FORK      = 4
	SYS_EXIT      = 5
	SYS_MBOX_CALL = 6
	SYS_KILL      = 7
	SYS_SIGNAL    = 8
	SYS_SIGKILL   = 9
	SYS_MMAP      = 10
	SYS_OPEN      = 11
	SYS_CLOSE     = 12
	SYS_WRITE     = 13
	SYS_READ      = 14
	SYS_MKDIR     = 15
	SYS_MOUNT     = 16
	SYS_CHDIR     = 17
	SYS_LSEEK64   = 18
	SYS_IOCTL     = 19
	SYS_SIGRETURN = 50
)

/// Open flags (component J).
const (
	O_RDONLY = 0x0
	O_WRONLY = 0x1
	O_RDWR   = 0x2
	O_CREAT  = 0x40
	O_EXCL   = 0x80
	O_TRUNC  = 0x200
	O_APPEND = 0x400
	O_DIRECTORY = 0x10000
)

/// Seek whence values.
const (
	SEEK_SET = 0
	SEEK_CUR = 1
	SEEK_END = 2
)

/// Fault classification returned by the MMU abort handler (component G).
type FaultKind int

const (
	FaultTranslation FaultKind = iota
	FaultPermission
	FaultOther
)

/// Address map: fixed virtual addresses shared by every
/// process's address space.
const (
	USER_SPACE             uintptr = 0x0
	USER_STACK_BASE        uintptr = 0xFFFF_FFFF_F000
	USER_STACK_SIZE        uintptr = 1 << 20
	USER_SIGNAL_WRAPPER_VA uintptr = 0xFFFF_FFF0_0000
	KERNEL_HIGH_OFFSET     uintptr = 0xFFFF_0000_0000_0000
	PERIPHERAL_BASE        uintptr = 0x3C00_0000
	PERIPHERAL_END         uintptr = 0x3F00_0000
)
