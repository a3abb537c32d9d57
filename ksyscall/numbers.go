package ksyscall

// Num is a syscall number. Values match the x86-64 Linux ABI numbering
// (SPEC_FULL.md's dispatcher is table-indexed "by number"; reusing the
// real ABI numbers instead of inventing a fresh scheme means a trap
// frame captured from a real x86-64 entry path needs no translation
// before reaching Dispatch).
type Num uint32

const (
	SysRead     Num = 0
	SysWrite    Num = 1
	SysOpen     Num = 2
	SysClose    Num = 3
	SysStat     Num = 4
	SysFstat    Num = 5
	SysLstat    Num = 6
	SysPoll     Num = 7
	SysLseek    Num = 8
	SysMmap     Num = 9
	SysMprotect Num = 10
	SysMunmap   Num = 11
	SysBrk      Num = 12

	SysRtSigaction   Num = 13
	SysRtSigprocmask Num = 14
	SysIoctl         Num = 16
	SysPread64       Num = 17
	SysPwrite64      Num = 18
	SysPipe          Num = 22
	SysSelect        Num = 23
	SysMadvise       Num = 28
	SysDup           Num = 32

	SysNanosleep Num = 35
	SysSendfile  Num = 40
	SysSocket    Num = 41
	SysConnect   Num = 42
	SysAccept    Num = 43
	SysSendto    Num = 44
	SysRecvfrom  Num = 45
	SysSendmsg   Num = 46
	SysRecvmsg   Num = 47
	SysShutdown  Num = 48
	SysBind      Num = 49
	SysListen    Num = 50

	SysGetsockname Num = 51
	SysGetpeername Num = 52
	SysSocketpair  Num = 53
	SysSetsockopt  Num = 54
	SysGetsockopt  Num = 55
	SysClone       Num = 56
	SysFork        Num = 57
	SysVfork       Num = 58
	SysExecve      Num = 59
	SysExit        Num = 60
	SysWait4       Num = 61
	SysKill        Num = 62

	SysFcntl Num = 72
	SysFlock Num = 73

	SysRename  Num = 82
	SysMkdir   Num = 83
	SysRmdir   Num = 84
	SysLink    Num = 86
	SysUnlink  Num = 87
	SysSymlink Num = 88
	SysReadlink Num = 89

	SysGettimeofday Num = 96

	SysCapget Num = 125
	SysCapset Num = 126

	SysRtSigtimedwait Num = 128
	SysSigaltstack    Num = 131

	SysMount  Num = 165
	SysUmount Num = 166

	SysFutex Num = 202

	SysGetdents64 Num = 217

	SysClockGettime Num = 228
	SysExitGroup    Num = 231
	SysEpollWait    Num = 232
	SysEpollCtl     Num = 233
	SysTgkill       Num = 234

	SysOpenat Num = 257

	SysPselect6 Num = 270
	SysPpoll    Num = 271

	SysSplice Num = 275
	SysTee    Num = 276

	SysEpollPwait Num = 281

	SysAccept4    Num = 288
	SysSignalfd4  Num = 289
	SysEventfd2   Num = 290
	SysEpollCreate1 Num = 291
	SysDup3       Num = 292
	SysPipe2      Num = 293

	SysRecvmmsg Num = 299

	// These three are outside the generated range this core's reference
	// Go toolchain shipped (older kernel header snapshot) but are stable
	// x86-64 ABI numbers from upstream Linux; hardcoded rather than left
	// out since SPEC_FULL.md names all three explicitly.
	SysSendmmsg       Num = 307
	SysCopyFileRange  Num = 326
	SysStatx          Num = 332
)
