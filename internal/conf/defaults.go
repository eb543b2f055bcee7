// defaults.go default values for settings
package conf

import (
	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "yolo-go")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "logs/yolo-go.log")
	viper.SetDefault("main.log.rotation", RotationDaily)
	viper.SetDefault("main.log.maxsize", 10485760)

	viper.SetDefault("webserver.debug", false)
	viper.SetDefault("webserver.port", "8080")

	viper.SetDefault("model.path", "model/yolov8n_float32.tflite")
	viper.SetDefault("model.labelspath", "model/coco_labels.txt")
	viper.SetDefault("model.confidence", 0.25)
	viper.SetDefault("model.iou", 0.45)
	viper.SetDefault("model.threads", 0)
	viper.SetDefault("model.usexnnpack", true)

	viper.SetDefault("uploads.originalpath", "uploads/original")
	viper.SetDefault("uploads.predictedpath", "uploads/predicted")

	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "predictions.db")
	viper.SetDefault("output.dynamodb.enabled", false)
	viper.SetDefault("output.dynamodb.region", "us-west-1")
	viper.SetDefault("output.dynamodb.endpoint", "")
	viper.SetDefault("output.dynamodb.sessionstable", "prediction_sessions")
	viper.SetDefault("output.dynamodb.detectionstable", "detection_objects")

	viper.SetDefault("objectstore.enabled", false)
	viper.SetDefault("objectstore.bucket", "")
	viper.SetDefault("objectstore.region", "us-west-1")
	viper.SetDefault("objectstore.endpoint", "")
	viper.SetDefault("objectstore.accesskeyid", "")
	viper.SetDefault("objectstore.secretaccesskey", "")

	viper.SetDefault("queue.enabled", false)
	viper.SetDefault("queue.url", "")
	viper.SetDefault("queue.region", "us-west-1")
	viper.SetDefault("queue.endpoint", "")
	viper.SetDefault("queue.maxmessages", 10)
	viper.SetDefault("queue.waitseconds", 20)
	viper.SetDefault("queue.idleseconds", 1)
	viper.SetDefault("queue.backoffseconds", 5)
}
