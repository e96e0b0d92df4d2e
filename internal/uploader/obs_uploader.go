// internal/uploader/obs_uploader.go
package uploader

import (
	"errors"
	"fmt"
	"log"
	"path"
	"path/filepath"
	"strings"

	"github.com/huaweicloud/huaweicloud-sdk-go-obs/obs"
)

// Uploader 把下载完成的有声书归档到对象存储
type Uploader interface {
	UploadFile(objectKey, filePath string) error
}

// ObsUploader 结构体封装了 OBS 客户端和配置
type ObsUploader struct {
	client *obs.ObsClient
	bucket string
	prefix string
}

// NewObsUploader 创建一个新的 OBS 上传器实例，prefix 会加在所有对象键前面
func NewObsUploader(endpoint, ak, sk, bucket, prefix string) (*ObsUploader, error) {
	client, err := obs.New(ak, sk, endpoint)
	if err != nil {
		return nil, fmt.Errorf("无法创建 OBS 客户端: %w", err)
	}
	return &ObsUploader{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}, nil
}

// ObjectKey 把相对下载目录的路径转换成 OBS 对象键
func ObjectKey(prefix, relPath string) string {
	key := filepath.ToSlash(relPath)
	key = strings.TrimLeft(path.Clean("/"+key), "/")
	if p := strings.Trim(prefix, "/"); p != "" {
		return p + "/" + key
	}
	return key
}

// ContentType 按扩展名返回音频文件的 MIME 类型
func ContentType(filePath string) string {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".mp3":
		return "audio/mpeg"
	case ".m4a", ".m4b":
		return "audio/mp4"
	default:
		return "application/octet-stream"
	}
}

// UploadFile 将指定路径的本地文件上传到 OBS，relPath 为相对下载目录的路径
func (u *ObsUploader) UploadFile(relPath, filePath string) error {
	objectKey := ObjectKey(u.prefix, relPath)

	input := &obs.PutFileInput{}
	input.Bucket = u.bucket
	input.Key = objectKey
	input.SourceFile = filePath
	input.ContentType = ContentType(filePath)

	output, err := u.client.PutFile(input)
	if err != nil {
		var obsError obs.ObsError
		if errors.As(err, &obsError) {
			return fmt.Errorf("上传失败，OBS错误码: %s, 错误信息: %s", obsError.Code, obsError.Message)
		}
		return fmt.Errorf("上传文件到 OBS 失败: %w", err)
	}

	log.Printf("☁️ 文件 '%s' 已上传到 OBS 桶 '%s'，对象键为 '%s' (ETag: %s)", filePath, u.bucket, objectKey, output.ETag)
	return nil
}

// Close 关闭客户端连接
func (u *ObsUploader) Close() {
	if u.client != nil {
		u.client.Close()
	}
}
